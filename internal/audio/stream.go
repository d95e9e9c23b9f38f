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
	"encoding/binary"
	"fmt"
	"log"
	"time"
)

// SampleSource is the pull-based decoder contract a Stream consumes.
// Implementations live in internal/source. A short Decode (n < len(dst))
// signals the cursor has hit the end of data. Sources must be re-seekable.
type SampleSource interface {
	// Decode fills dst with interleaved int16 samples and returns how many
	// were written.
	Decode(dst []int16) (int, error)
	// Seek moves the cursor to an absolute interleaved-sample offset.
	Seek(sampleOffset int64) error
	// SampleCount reports the total interleaved samples in the source.
	SampleCount() int64
	// ChannelCount reports interleaved channels (1 = mono, 2 = stereo).
	ChannelCount() int
	// SampleRate reports frames per second.
	SampleRate() int
	// SampleOffset reports the cursor position in interleaved samples.
	SampleOffset() int64
}

// Status is the logical playback status of a stream.
type Status uint8

const (
	StatusStopped Status = iota
	StatusPaused
	StatusPlaying
)

func (s Status) String() string {
	switch s {
	case StatusPaused:
		return "paused"
	case StatusPlaying:
		return "playing"
	}
	return "stopped"
}

const (
	// streamBufferCount is how many hardware buffers a stream rotates.
	streamBufferCount = 3
	// fillRetryLimit bounds seek-and-retry attempts when a looping source
	// yields a short read, so a zero-length source cannot spin a fill forever.
	fillRetryLimit = 2
	// noMark is the empty loop-boundary marker.
	noMark = int64(-1)
)

type streamState uint8

const (
	stateIdle streamState = iota
	stateStreaming
	statePaused
)

// Stream binds one logical sound to one pooled voice and three hardware
// buffers while it plays. Buffers are filled one frame-second at a time from
// the SampleSource and rotated through the voice's queue; the cumulative
// processed-sample tally approximates the true hardware position between
// buffer completions.
//
// All mutating methods are serialized by the owning Player's lock.
type Stream struct {
	pl  *Player
	dev Device
	src SampleSource

	channels   int
	sampleRate int
	format     SampleFormat

	lease    *Lease
	bufs     [streamBufferCount]BufferID
	marks    [streamBufferCount]int64
	haveBufs bool

	state       streamState
	looping     bool
	terminating bool

	// processed counts interleaved samples the hardware has finished with.
	// It only moves forward, except on explicit seek and on loop-boundary
	// resync.
	processed int64

	scratch []int16
	pcm     []byte
}

// Status reports whether the stream is stopped, paused or playing.
func (s *Stream) Status() Status {
	s.pl.mu.Lock()
	defer s.pl.mu.Unlock()
	return s.statusLocked()
}

func (s *Stream) statusLocked() Status {
	switch s.state {
	case stateStreaming:
		return StatusPlaying
	case statePaused:
		return StatusPaused
	}
	return StatusStopped
}

// Looping reports whether the stream wraps to the start on end of data.
func (s *Stream) Looping() bool {
	s.pl.mu.Lock()
	defer s.pl.mu.Unlock()
	return s.looping
}

// SetLooping toggles loop-on-end. Takes effect on the next buffer fill.
func (s *Stream) SetLooping(looping bool) {
	s.pl.mu.Lock()
	defer s.pl.mu.Unlock()
	s.looping = looping
	if s.lease != nil {
		s.lease.SetLooping(looping)
	}
}

// Duration reports the total play time of the source.
func (s *Stream) Duration() time.Duration {
	frames := s.src.SampleCount() / int64(s.channels)
	return time.Duration(frames) * time.Second / time.Duration(s.sampleRate)
}

// PlayingOffset reports the approximate playback position. Accuracy is one
// buffer's latency: the tally advances as the hardware finishes whole
// buffers.
func (s *Stream) PlayingOffset() time.Duration {
	s.pl.mu.Lock()
	defer s.pl.mu.Unlock()
	if s.state == stateIdle {
		return 0
	}
	frames := s.processed / int64(s.channels)
	return time.Duration(frames) * time.Second / time.Duration(s.sampleRate)
}

// SetPlayingOffset seeks the stream. A playing stream keeps playing from the
// new position, a paused one stays paused there. On an idle stream only the
// decode cursor moves, so the next Play starts from the new position.
func (s *Stream) SetPlayingOffset(t time.Duration) error {
	s.pl.mu.Lock()
	defer s.pl.mu.Unlock()
	frames := int64(t) * int64(s.sampleRate) / int64(time.Second)
	return s.seek(frames * int64(s.channels))
}

// Play, Pause and Stop delegate to the owning player.

func (s *Stream) Play() error  { return s.pl.Play(s) }
func (s *Stream) Pause() error { return s.pl.Pause(s) }
func (s *Stream) Stop() error  { return s.pl.Stop(s) }

// start preloads the buffer set on a freshly leased voice and kicks the
// hardware. An empty source goes straight through the draining path and the
// voice returns to the pool immediately.
func (s *Stream) start(lease *Lease) error {
	s.lease = lease
	lease.SetLooping(s.looping)
	s.terminating = false
	// An idle seek leaves the decode cursor mid-source; the tally starts there.
	s.processed = s.src.SampleOffset()

	queued, err := s.preload()
	if err != nil {
		s.drain()
		return err
	}
	if queued == 0 {
		s.drain()
		return nil
	}
	s.state = stateStreaming
	if err := s.dev.Play(lease.Voice); err != nil {
		s.drain()
		return fmt.Errorf("start voice %d: %w", lease.Voice, err)
	}
	return nil
}

// preload allocates the buffer set and fills it slot by slot, stopping early
// once the source reports terminal end of data. Returns how many buffers got
// queued.
func (s *Stream) preload() (int, error) {
	ids, err := s.dev.GenerateBuffers(streamBufferCount)
	if err != nil {
		return 0, fmt.Errorf("generate buffers: %w", err)
	}
	copy(s.bufs[:], ids)
	s.haveBufs = true
	for i := range s.marks {
		s.marks[i] = noMark
	}

	queued := 0
	for slot := 0; slot < streamBufferCount; slot++ {
		chunk, mark, terminal, err := s.pull()
		if err != nil {
			return queued, err
		}
		if len(chunk) > 0 {
			if err := s.uploadAndQueue(slot, chunk, mark); err != nil {
				return queued, err
			}
			queued++
		}
		if terminal {
			s.terminating = true
			break
		}
	}
	return queued, nil
}

// pull decodes up to one frame-second of samples. A short read means the
// source ran out: non-looping streams mark the buffer so the offset tally
// resets once it drains, looping streams seek back to the start, record the
// resume offset and keep filling the same chunk. A retry that yields nothing
// is terminal, which bounds the time spent on a zero-length loop source.
func (s *Stream) pull() (chunk []int16, mark int64, terminal bool, err error) {
	want := s.sampleRate * s.channels
	if cap(s.scratch) < want {
		s.scratch = make([]int16, want)
	}
	buf := s.scratch[:want]
	mark = noMark

	filled := 0
	retries := 0
	for filled < want {
		n, derr := s.src.Decode(buf[filled:])
		if derr != nil {
			return nil, noMark, false, fmt.Errorf("decode samples: %w", derr)
		}
		filled += n
		if retries > 0 && n == 0 {
			terminal = true
			break
		}
		if filled >= want {
			break
		}
		if !s.looping {
			mark = 0
			terminal = true
			break
		}
		if retries >= fillRetryLimit {
			break
		}
		retries++
		if serr := s.src.Seek(0); serr != nil {
			return nil, noMark, false, fmt.Errorf("seek loop start: %w", serr)
		}
		if mark == noMark {
			mark = s.src.SampleOffset()
		}
	}
	return buf[:filled], mark, terminal, nil
}

// uploadAndQueue pushes a filled chunk into the slot's hardware buffer and
// queues it on the voice.
func (s *Stream) uploadAndQueue(slot int, chunk []int16, mark int64) error {
	need := len(chunk) * 2
	if cap(s.pcm) < need {
		s.pcm = make([]byte, need)
	}
	pcm := s.pcm[:need]
	for i, v := range chunk {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}

	id := s.bufs[slot]
	if err := s.dev.UploadBufferData(id, s.format, pcm, s.sampleRate); err != nil {
		return fmt.Errorf("upload buffer %d: %w", id, err)
	}
	if err := s.dev.QueueBuffer(s.lease.Voice, id); err != nil {
		return fmt.Errorf("queue buffer %d: %w", id, err)
	}
	s.marks[slot] = mark
	return nil
}

// update is one Streaming tick: heal underrun, retire processed buffers,
// advance the offset tally, refill, and detect natural termination.
func (s *Stream) update() error {
	if s.state != stateStreaming {
		return nil
	}
	v := s.lease.Voice

	hw, err := s.dev.State(v)
	if err != nil {
		return fmt.Errorf("query voice %d state: %w", v, err)
	}
	if hw == StateStopped {
		if s.terminating {
			s.drain()
			return nil
		}
		// Underrun: the queue ran dry before we could refill. Resume rather
		// than mistaking it for end of stream.
		if err := s.dev.Play(v); err != nil {
			return fmt.Errorf("resume voice %d after underrun: %w", v, err)
		}
	}

	count, err := s.dev.ProcessedCount(v)
	if err != nil {
		return fmt.Errorf("query processed buffers on voice %d: %w", v, err)
	}
	for i := 0; i < count; i++ {
		id, err := s.dev.UnqueueBuffer(v)
		if err != nil {
			return fmt.Errorf("unqueue buffer from voice %d: %w", v, err)
		}
		slot := s.slotOf(id)
		if slot < 0 {
			continue
		}

		if s.marks[slot] != noMark {
			// This buffer's tail crossed the loop point or end of data.
			// Resync the tally to the resume offset instead of accumulating
			// past it.
			s.processed = s.marks[slot]
			s.marks[slot] = noMark
		} else {
			depth, err := s.dev.BufferBitDepth(id)
			if err != nil {
				return fmt.Errorf("query bit depth of buffer %d: %w", id, err)
			}
			if depth < 8 || depth%8 != 0 {
				log.Printf("❌ Corrupt buffer %d on voice %d (bit depth %d), stopping stream", id, v, depth)
				s.terminating = true
				_ = s.dev.Stop(v)
				s.drain()
				return ErrCorruptBuffer
			}
			size, err := s.dev.BufferSize(id)
			if err != nil {
				return fmt.Errorf("query size of buffer %d: %w", id, err)
			}
			s.processed += int64(size / (depth / 8))
		}

		if s.terminating {
			continue
		}
		chunk, mark, terminal, err := s.pull()
		if err != nil {
			return err
		}
		if terminal {
			s.terminating = true
		}
		if len(chunk) > 0 {
			if err := s.uploadAndQueue(slot, chunk, mark); err != nil {
				return err
			}
		}
	}

	if s.terminating {
		hw, err = s.dev.State(v)
		if err != nil {
			return fmt.Errorf("query voice %d state: %w", v, err)
		}
		if hw == StateStopped {
			s.drain()
		}
	}
	return nil
}

func (s *Stream) pause() error {
	if s.state != stateStreaming {
		return nil
	}
	if err := s.dev.Pause(s.lease.Voice); err != nil {
		return fmt.Errorf("pause voice %d: %w", s.lease.Voice, err)
	}
	s.lease.SetPinned(true)
	s.state = statePaused
	return nil
}

// resume restarts a paused stream in place: buffers stay queued, the offset
// tally is untouched, only the hardware starts consuming again.
func (s *Stream) resume() error {
	if s.state != statePaused {
		return nil
	}
	if err := s.dev.Play(s.lease.Voice); err != nil {
		return fmt.Errorf("resume voice %d: %w", s.lease.Voice, err)
	}
	s.lease.SetPinned(false)
	s.state = stateStreaming
	return nil
}

// stop is idempotent: draining an already idle stream is a no-op.
func (s *Stream) stop() {
	if s.state == stateIdle {
		return
	}
	s.drain()
}

// drain is the Draining transition: stop the hardware, flush and delete the
// buffer set, zero the offset tally, rewind the source and hand the voice
// back to the pool.
func (s *Stream) drain() {
	if s.lease == nil {
		s.state = stateIdle
		return
	}
	v := s.lease.Voice
	if err := s.dev.Stop(v); err != nil {
		log.Printf("⚠️  Failed to stop voice %d while draining: %v", v, err)
	}
	s.flushQueue(v)
	s.deleteBuffers()
	s.processed = 0
	if err := s.src.Seek(0); err != nil {
		log.Printf("⚠️  Failed to rewind source while draining: %v", err)
	}
	if err := s.pl.pool.Release(s.lease); err != nil {
		log.Printf("⚠️  Failed to release voice %d: %v", v, err)
	}
	s.lease = nil
	s.terminating = false
	s.state = stateIdle
}

// seek moves the playback position to an absolute interleaved-sample offset.
// A live session flushes through the stop path without giving up its voice,
// then preloads again from the new cursor.
func (s *Stream) seek(target int64) error {
	if target < 0 {
		target = 0
	}
	if max := s.src.SampleCount(); target > max {
		target = max
	}
	if s.state == stateIdle {
		return s.src.Seek(target)
	}

	prior := s.statusLocked()
	v := s.lease.Voice
	if err := s.dev.Stop(v); err != nil {
		return fmt.Errorf("stop voice %d for seek: %w", v, err)
	}
	s.flushQueue(v)
	s.deleteBuffers()
	s.terminating = false

	if err := s.src.Seek(target); err != nil {
		s.drain()
		return fmt.Errorf("seek source: %w", err)
	}
	s.processed = target

	queued, err := s.preload()
	if err != nil {
		s.drain()
		return err
	}
	if queued == 0 {
		s.drain()
		return nil
	}
	if prior == StatusPlaying {
		s.state = stateStreaming
		if err := s.dev.Play(v); err != nil {
			s.drain()
			return fmt.Errorf("restart voice %d after seek: %w", v, err)
		}
	} else {
		s.state = statePaused
	}
	return nil
}

func (s *Stream) flushQueue(v VoiceID) {
	for {
		queued, err := s.dev.QueuedCount(v)
		if err != nil || queued == 0 {
			return
		}
		if _, err := s.dev.UnqueueBuffer(v); err != nil {
			log.Printf("⚠️  Failed to flush queued buffer from voice %d: %v", v, err)
			return
		}
	}
}

func (s *Stream) deleteBuffers() {
	if !s.haveBufs {
		return
	}
	if err := s.dev.DeleteBuffers(s.bufs[:]); err != nil {
		log.Printf("⚠️  Failed to delete stream buffers: %v", err)
	}
	s.haveBufs = false
	for i := range s.marks {
		s.marks[i] = noMark
	}
}

func (s *Stream) slotOf(id BufferID) int {
	for i, b := range s.bufs {
		if b == id {
			return i
		}
	}
	return -1
}
