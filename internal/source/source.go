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

// Package source provides pull-based PCM sample sources and the decoder
// registry that produces them from encoded audio containers.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source is a re-seekable cursor over interleaved int16 PCM. A short Decode
// (n < len(dst)) signals the cursor has reached the end of data.
type Source interface {
	Decode(dst []int16) (int, error)
	Seek(sampleOffset int64) error
	SampleCount() int64
	ChannelCount() int
	SampleRate() int
	SampleOffset() int64
}

// Decoder turns an encoded audio container into an in-memory Buffer.
type Decoder interface {
	Decode(r io.ReadSeeker) (*Buffer, error)
}

// ErrUnknownFormat is returned when no decoder is registered for a format.
var ErrUnknownFormat = errors.New("no decoder registered for format")

// Registry is a lookup table of decoders keyed by format name (the lowercase
// file extension without dot: "wav", "ogg", "mp3").
type Registry struct {
	mu     sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry creates a registry with every built-in decoder registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WAVDecoder{})
	r.Register("wave", WAVDecoder{})
	r.Register("ogg", VorbisDecoder{})
	r.Register("oga", VorbisDecoder{})
	r.Register("mp3", MP3Decoder{})
	return r
}

// Register installs a decoder for a format key.
func (r *Registry) Register(format string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(format)] = d
}

// Lookup finds the decoder for a format key.
func (r *Registry) Lookup(format string) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.codecs[strings.ToLower(format)]
	return d, ok
}

// Decode runs the decoder registered for format over rd.
func (r *Registry) Decode(format string, rd io.ReadSeeker) (*Buffer, error) {
	d, ok := r.Lookup(format)
	if !ok {
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
	return d.Decode(rd)
}

// Open loads a file, picking the decoder by extension.
func (r *Registry) Open(path string) (*Buffer, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	d, ok := r.Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrUnknownFormat)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf, err := d.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return buf, nil
}
