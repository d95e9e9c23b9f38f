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

package audio

import "errors"

var (
	// ErrResourceExhausted is returned by Play when the voice pool has hit its
	// ceiling and no stopped voice can be recycled. Retrying after the next
	// Update tick may succeed.
	ErrResourceExhausted = errors.New("voice pool exhausted")

	// ErrCorruptBuffer is returned when the hardware reports a zero bit depth
	// for a processed buffer. It is fatal to the affected stream.
	ErrCorruptBuffer = errors.New("hardware buffer reports zero bit depth")

	// ErrUnsupportedFormat is returned at stream construction when the source
	// channel layout has no hardware format.
	ErrUnsupportedFormat = errors.New("unsupported channel layout")

	// ErrDoubleRelease is returned when a voice lease is released twice.
	ErrDoubleRelease = errors.New("voice lease already released")
)
