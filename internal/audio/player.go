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

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultTickInterval is the recommended spacing between Update calls.
const DefaultTickInterval = 10 * time.Millisecond

// Player coordinates the voice pool and every registered stream. It is the
// explicit engine context: construct one per process, pass it by pointer.
//
// All stream and pool state is touched under one lock, so Play/Pause/Stop may
// be called from any goroutine while the host drives Update on its tick.
// Stop is synchronous: when it returns the voice is back in the pool and safe
// to reassign.
type Player struct {
	mu      sync.Mutex
	dev     Device
	pool    *Pool
	streams []*Stream
}

// NewPlayer creates a player over an initialized device. A ceiling of zero
// picks DefaultVoiceCeiling.
func NewPlayer(dev Device, ceiling int) *Player {
	return &Player{
		dev:  dev,
		pool: NewPool(dev, ceiling),
	}
}

// NewStream registers a logical sound backed by src. Fails with
// ErrUnsupportedFormat before any voice is leased when the source's channel
// layout has no hardware mapping.
func (p *Player) NewStream(src SampleSource) (*Stream, error) {
	format, ok := formatFor(src.ChannelCount())
	if !ok {
		return nil, fmt.Errorf("%d channels: %w", src.ChannelCount(), ErrUnsupportedFormat)
	}

	st := &Stream{
		pl:         p,
		dev:        p.dev,
		src:        src,
		channels:   src.ChannelCount(),
		sampleRate: src.SampleRate(),
		format:     format,
	}
	for i := range st.marks {
		st.marks[i] = noMark
	}

	p.mu.Lock()
	p.streams = append(p.streams, st)
	p.mu.Unlock()
	return st, nil
}

// Play starts a stream. A paused stream resumes in place; a playing stream
// restarts from the beginning; otherwise a voice is leased from the pool and
// the stream preloads onto it. Fails with ErrResourceExhausted when the pool
// ceiling is reached; retrying after the next Update may succeed.
func (p *Player) Play(st *Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch st.state {
	case statePaused:
		return st.resume()
	case stateStreaming:
		st.stop()
	}

	lease, err := p.pool.Acquire()
	if err != nil {
		return err
	}
	return st.start(lease)
}

// Pause halts a playing stream, keeping its voice, buffers and offset.
func (p *Player) Pause(st *Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return st.pause()
}

// Stop drains a stream and returns its voice to the pool. Stopping an
// already stopped stream is a no-op.
func (p *Player) Stop(st *Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st.stop()
	return nil
}

// RemoveStream stops a stream and unregisters it from the update loop.
func (p *Player) RemoveStream(st *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st.stop()
	for i, other := range p.streams {
		if other == st {
			p.streams = append(p.streams[:i], p.streams[i+1:]...)
			break
		}
	}
}

// Update is the periodic tick: every active stream refills its buffers, then
// the pool sweeps finished voices back in. A stream that errors is drained
// and logged; it never takes the tick down for the others.
func (p *Player) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, st := range p.streams {
		if err := st.update(); err != nil {
			log.Printf("⚠️  Stream degraded, dropping its session: %v", err)
			st.drain()
		}
	}
	p.pool.Sweep()
}

// Stats reports how many voices are leased to active streams and how many
// sit recyclable in the pool.
func (p *Player) Stats() (active, pooled int) {
	return p.pool.Counts()
}

// Close stops every stream and destroys the pool's voice handles.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.streams {
		st.stop()
	}
	p.pool.Close()
}
