/*
 * This file is part of Polyvoice (https://github.com/nmelo/polyvoice).
 * Copyright (C) 2026 Polyvoice Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrNotWAV is returned for input that is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("not a wav file")

// WAVDecoder decodes RIFF/WAVE containers through go-audio/wav. Container
// correctness is the library's business; this adapter only normalizes the
// PCM to interleaved int16.
type WAVDecoder struct{}

// Decode reads the whole container into a Buffer.
func (WAVDecoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	depth := int(dec.BitDepth)
	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		switch depth {
		case 8:
			// WAV 8-bit is unsigned.
			samples[i] = int16((v - 128) << 8)
		case 16:
			samples[i] = int16(v)
		case 24:
			samples[i] = int16(v >> 8)
		case 32:
			samples[i] = int16(v >> 16)
		default:
			return nil, fmt.Errorf("wav bit depth %d not supported", depth)
		}
	}

	return NewBuffer(samples, pcm.Format.NumChannels, pcm.Format.SampleRate)
}
