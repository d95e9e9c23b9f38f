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
	"time"
)

// Buffer is an in-memory Source: fully decoded interleaved int16 PCM with an
// exact sample count and a cheap, always-valid Seek. Buffer itself is not
// goroutine-safe; wrap a shared one in a Cursor per consumer.
type Buffer struct {
	samples    []int16
	channels   int
	sampleRate int
	pos        int64
}

// NewBuffer wraps interleaved samples. The slice is not copied.
func NewBuffer(samples []int16, channels, sampleRate int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("buffer needs at least one channel, got %d", channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("buffer needs a positive sample rate, got %d", sampleRate)
	}
	// Drop a trailing partial frame so the cursor always lands on frame
	// boundaries.
	samples = samples[:len(samples)-len(samples)%channels]
	return &Buffer{
		samples:    samples,
		channels:   channels,
		sampleRate: sampleRate,
	}, nil
}

// Decode fills dst from the cursor. A short count means end of data.
func (b *Buffer) Decode(dst []int16) (int, error) {
	n := copy(dst, b.samples[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// Seek moves the cursor to an absolute interleaved-sample offset, clamped to
// the buffer and aligned down to a frame boundary.
func (b *Buffer) Seek(sampleOffset int64) error {
	if sampleOffset < 0 {
		sampleOffset = 0
	}
	if max := int64(len(b.samples)); sampleOffset > max {
		sampleOffset = max
	}
	b.pos = sampleOffset - sampleOffset%int64(b.channels)
	return nil
}

// SeekTime moves the cursor to a play-time offset.
func (b *Buffer) SeekTime(t time.Duration) error {
	frames := int64(t) * int64(b.sampleRate) / int64(time.Second)
	return b.Seek(frames * int64(b.channels))
}

// SampleCount reports the total interleaved samples.
func (b *Buffer) SampleCount() int64 { return int64(len(b.samples)) }

// ChannelCount reports interleaved channels.
func (b *Buffer) ChannelCount() int { return b.channels }

// SampleRate reports frames per second.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// SampleOffset reports the cursor position in interleaved samples.
func (b *Buffer) SampleOffset() int64 { return b.pos }

// Duration reports total play time.
func (b *Buffer) Duration() time.Duration {
	frames := int64(len(b.samples)) / int64(b.channels)
	return time.Duration(frames) * time.Second / time.Duration(b.sampleRate)
}
