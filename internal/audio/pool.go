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
)

// DefaultVoiceCeiling caps how many distinct hardware voices a pool will ever
// create.
const DefaultVoiceCeiling = 256

// Lease is a loan of one hardware voice from the pool. The holder owns the
// voice exclusively until it hands the lease back with Release.
type Lease struct {
	Voice    VoiceID
	looping  bool
	pinned   bool
	released bool
}

// SetLooping marks the leased voice as belonging to a looping stream so the
// recycle sweep leaves it alone while it idles between buffer refills.
func (l *Lease) SetLooping(looping bool) {
	l.looping = looping
}

// SetPinned exempts the lease from the recycle sweep. A paused stream pins
// its voice: the hardware may sit stopped after an in-place seek, and that
// must not read as finished playback.
func (l *Lease) SetPinned(pinned bool) {
	l.pinned = pinned
}

// Pool arbitrates a hard-limited number of hardware voices among any number
// of logical sounds. Stopped voices are recycled instead of destroyed, so the
// total number of handles ever created stays under the ceiling.
type Pool struct {
	dev     Device
	ceiling int

	mu      sync.Mutex
	leased  map[VoiceID]*Lease
	free    []VoiceID
	created int
}

// NewPool creates a voice pool over the given device. A ceiling of zero or
// less falls back to DefaultVoiceCeiling.
func NewPool(dev Device, ceiling int) *Pool {
	if ceiling <= 0 {
		ceiling = DefaultVoiceCeiling
	}
	return &Pool{
		dev:     dev,
		ceiling: ceiling,
		leased:  make(map[VoiceID]*Lease),
	}
}

// Acquire hands out a voice, recycling a stopped one when available and
// creating a new handle otherwise. It fails with ErrResourceExhausted once
// the ceiling is reached and nothing can be recycled; the caller may retry
// after the next Update tick has swept finished voices back in.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id VoiceID
	switch {
	case len(p.free) > 0:
		id = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	case p.created < p.ceiling:
		var err error
		id, err = p.dev.NewVoice()
		if err != nil {
			return nil, fmt.Errorf("create voice: %w", err)
		}
		p.created++
	default:
		return nil, ErrResourceExhausted
	}

	lease := &Lease{Voice: id}
	p.leased[id] = lease
	return lease, nil
}

// Release returns a voice to the recyclable set. Releasing a lease twice
// reports ErrDoubleRelease and leaves the pool untouched.
func (p *Pool) Release(l *Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.release(l)
}

func (p *Pool) release(l *Lease) error {
	if l.released {
		return ErrDoubleRelease
	}
	l.released = true
	delete(p.leased, l.Voice)
	p.free = append(p.free, l.Voice)
	return nil
}

// Sweep recycles leased voices whose hardware reports them stopped and which
// are not marked looping. Invoked from the periodic Update tick.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, lease := range p.leased {
		if lease.looping || lease.pinned {
			continue
		}
		state, err := p.dev.State(id)
		if err != nil {
			log.Printf("⚠️  Voice %d state query failed during sweep: %v", id, err)
			continue
		}
		if state == StateStopped {
			_ = p.release(lease)
		}
	}
}

// Counts reports how many voices are currently leased out and how many sit
// recyclable in the pool.
func (p *Pool) Counts() (leased, pooled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased), len(p.free)
}

// Created reports how many distinct voice handles have ever been created.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Close destroys every handle the pool ever created. Leased voices are
// destroyed too; callers stop their streams first.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, lease := range p.leased {
		lease.released = true
		if err := p.dev.DestroyVoice(id); err != nil {
			log.Printf("⚠️  Failed to destroy leased voice %d: %v", id, err)
		}
	}
	p.leased = make(map[VoiceID]*Lease)
	for _, id := range p.free {
		if err := p.dev.DestroyVoice(id); err != nil {
			log.Printf("⚠️  Failed to destroy pooled voice %d: %v", id, err)
		}
	}
	p.free = nil
	p.created = 0
}
