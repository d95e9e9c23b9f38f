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
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisDecoder decodes Ogg Vorbis streams through jfreymuth/oggvorbis.
type VorbisDecoder struct{}

// Decode reads the whole stream into a Buffer.
func (VorbisDecoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode ogg vorbis: %w", err)
	}

	samples := make([]int16, len(data))
	for i, v := range data {
		samples[i] = floatToInt16(v)
	}
	return NewBuffer(samples, format.Channels, format.SampleRate)
}

// floatToInt16 converts a [-1,1] sample to int16, clamping out-of-range
// values instead of letting them wrap.
func floatToInt16(v float32) int16 {
	scaled := v * 32767
	switch {
	case scaled > 32767:
		return 32767
	case scaled < -32768:
		return -32768
	}
	return int16(scaled)
}
