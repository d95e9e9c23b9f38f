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

// Cursor is an independent read position over a shared Source. Several
// streams can play the same decoded buffer at different offsets: each Cursor
// snapshots the shared cursor, runs its own read, then restores it. Mutual
// exclusion on the underlying source across goroutines stays the caller's
// responsibility.
type Cursor struct {
	src Source
	pos int64
}

// NewCursor creates an independent view positioned at the start of src.
func NewCursor(src Source) *Cursor {
	return &Cursor{src: src}
}

// Decode reads from this view's position without disturbing the shared
// cursor.
func (c *Cursor) Decode(dst []int16) (int, error) {
	saved := c.src.SampleOffset()
	if err := c.src.Seek(c.pos); err != nil {
		return 0, err
	}
	n, err := c.src.Decode(dst)
	c.pos = c.src.SampleOffset()
	if serr := c.src.Seek(saved); serr != nil && err == nil {
		err = serr
	}
	return n, err
}

// Seek moves this view's position only.
func (c *Cursor) Seek(sampleOffset int64) error {
	saved := c.src.SampleOffset()
	if err := c.src.Seek(sampleOffset); err != nil {
		return err
	}
	c.pos = c.src.SampleOffset()
	return c.src.Seek(saved)
}

func (c *Cursor) SampleCount() int64  { return c.src.SampleCount() }
func (c *Cursor) ChannelCount() int   { return c.src.ChannelCount() }
func (c *Cursor) SampleRate() int     { return c.src.SampleRate() }
func (c *Cursor) SampleOffset() int64 { return c.pos }
