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
	"sync"

	"github.com/gordonklaus/portaudio"
)

// paFeedFrames is how many frames each blocking Write pushes; small enough
// that pause and stop are observed promptly.
const paFeedFrames = 1024

// PortAudioDevice implements Device over the real PortAudio library. Each
// voice owns a blocking output stream and a feeder goroutine that drains the
// queued buffers into it; the blocking writes pace playback.
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
	buffers     map[BufferID]*paBuffer
	voices      map[VoiceID]*paVoice
	nextBuffer  BufferID
	nextVoice   VoiceID
}

type paBuffer struct {
	pcm        []byte
	format     SampleFormat
	sampleRate int
}

// NewPortAudioDevice creates a new PortAudio-backed device.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{
		buffers:    make(map[BufferID]*paBuffer),
		voices:     make(map[VoiceID]*paVoice),
		nextBuffer: 1,
	}
}

// Initialize initializes the PortAudio subsystem.
func (d *PortAudioDevice) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	d.initialized = true
	return nil
}

// Terminate stops every voice and terminates PortAudio.
func (d *PortAudioDevice) Terminate() error {
	d.mu.Lock()
	voices := make([]*paVoice, 0, len(d.voices))
	for _, v := range d.voices {
		voices = append(voices, v)
	}
	d.voices = make(map[VoiceID]*paVoice)
	d.buffers = make(map[BufferID]*paBuffer)
	initialized := d.initialized
	d.initialized = false
	d.mu.Unlock()

	for _, v := range voices {
		v.shutdown()
	}
	if !initialized {
		return nil
	}
	return portaudio.Terminate()
}

// NewVoice creates a playback voice.
func (d *PortAudioDevice) NewVoice() (VoiceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return -1, fmt.Errorf("PortAudio not initialized")
	}
	id := d.nextVoice
	d.nextVoice++
	d.voices[id] = &paVoice{dev: d, state: StateInitial}
	return id, nil
}

// DestroyVoice releases a voice and its output stream.
func (d *PortAudioDevice) DestroyVoice(id VoiceID) error {
	d.mu.Lock()
	v, ok := d.voices[id]
	delete(d.voices, id)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such voice %d", id)
	}
	v.shutdown()
	return nil
}

// GenerateBuffers creates n sample buffers.
func (d *PortAudioDevice) GenerateBuffers(n int) ([]BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]BufferID, n)
	for i := range ids {
		id := d.nextBuffer
		d.nextBuffer++
		d.buffers[id] = &paBuffer{sampleRate: 44100}
		ids[i] = id
	}
	return ids, nil
}

// DeleteBuffers releases sample buffers.
func (d *PortAudioDevice) DeleteBuffers(ids []BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.buffers, id)
	}
	return nil
}

// UploadBufferData replaces a buffer's contents.
func (d *PortAudioDevice) UploadBufferData(id BufferID, format SampleFormat, pcm []byte, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("no such buffer %d", id)
	}
	buf.pcm = append(buf.pcm[:0], pcm...)
	buf.format = format
	buf.sampleRate = sampleRate
	return nil
}

func (d *PortAudioDevice) buffer(id BufferID) *paBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers[id]
}

func (d *PortAudioDevice) voice(id VoiceID) (*paVoice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.voices[id]
	if !ok {
		return nil, fmt.Errorf("no such voice %d", id)
	}
	return v, nil
}

// QueueBuffer appends a buffer to a voice's queue.
func (d *PortAudioDevice) QueueBuffer(vid VoiceID, id BufferID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	if d.buffer(id) == nil {
		return fmt.Errorf("no such buffer %d", id)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queue = append(v.queue, id)
	return nil
}

// UnqueueBuffer pops the oldest consumed buffer from a voice.
func (d *PortAudioDevice) UnqueueBuffer(vid VoiceID) (BufferID, error) {
	v, err := d.voice(vid)
	if err != nil {
		return -1, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.done) == 0 {
		return -1, fmt.Errorf("voice %d has no consumed buffers", vid)
	}
	id := v.done[0]
	v.done = v.done[1:]
	return id, nil
}

// ProcessedCount reports consumed-but-still-queued buffers.
func (d *PortAudioDevice) ProcessedCount(vid VoiceID) (int, error) {
	v, err := d.voice(vid)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.done), nil
}

// QueuedCount reports all buffers queued on a voice.
func (d *PortAudioDevice) QueuedCount(vid VoiceID) (int, error) {
	v, err := d.voice(vid)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue) + len(v.done), nil
}

// Play starts or resumes a voice's feeder.
func (d *PortAudioDevice) Play(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.play()
}

// Pause halts consumption, keeping the queue.
func (d *PortAudioDevice) Pause(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.pause()
}

// Stop halts consumption and marks every queued buffer consumed.
func (d *PortAudioDevice) Stop(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.stop()
}

// State reports the playback state of a voice.
func (d *PortAudioDevice) State(vid VoiceID) (VoiceState, error) {
	v, err := d.voice(vid)
	if err != nil {
		return StateInitial, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, nil
}

// BufferSize reports a buffer's byte size.
func (d *PortAudioDevice) BufferSize(id BufferID) (int, error) {
	buf := d.buffer(id)
	if buf == nil {
		return 0, fmt.Errorf("no such buffer %d", id)
	}
	return len(buf.pcm), nil
}

// BufferBitDepth reports a buffer's bit depth. Uploads are always 16-bit.
func (d *PortAudioDevice) BufferBitDepth(id BufferID) (int, error) {
	buf := d.buffer(id)
	if buf == nil {
		return 0, fmt.Errorf("no such buffer %d", id)
	}
	return 16, nil
}

// paVoice is one playback voice: a buffer queue plus a lazily opened output
// stream matched to the queued data's format.
type paVoice struct {
	dev *PortAudioDevice

	mu         sync.Mutex
	state      VoiceState
	queue      []BufferID // unconsumed, front is playing
	done       []BufferID // consumed, awaiting unqueue
	offset     int        // bytes consumed from the front buffer
	generation int        // bumps on every state change, retiring old feeders

	stream     *portaudio.Stream
	streamOn   bool
	out        []int16
	streamRate int
	streamCh   int
}

func (v *paVoice) play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StatePlaying {
		return nil
	}
	v.state = StatePlaying
	v.generation++
	go v.feed(v.generation)
	return nil
}

func (v *paVoice) pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StatePlaying {
		return nil
	}
	v.state = StatePaused
	v.generation++
	return nil
}

func (v *paVoice) stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateStopped
	v.generation++
	v.done = append(v.done, v.queue...)
	v.queue = nil
	v.offset = 0
	return nil
}

func (v *paVoice) shutdown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateStopped
	v.generation++
	v.queue = nil
	v.done = nil
	v.closeStreamLocked()
}

// feed drains the queue into the output stream until the voice stops, pauses
// or runs dry. The blocking Write paces consumption in real time.
func (v *paVoice) feed(gen int) {
	for {
		v.mu.Lock()
		if v.generation != gen || v.state != StatePlaying {
			// A displaced feeder leaves the stream to the newer generation;
			// stopping here would cut off the replacement mid-write.
			if v.state != StatePlaying {
				v.stopStreamLocked()
			}
			v.mu.Unlock()
			return
		}
		if len(v.queue) == 0 {
			// Queue ran dry: the hardware falls to Stopped on its own, same
			// as a real ring buffer underrunning.
			v.state = StateStopped
			v.generation++
			v.offset = 0
			v.stopStreamLocked()
			v.mu.Unlock()
			return
		}

		id := v.queue[0]
		buf := v.dev.buffer(id)
		if buf == nil || len(buf.pcm) <= v.offset {
			// Deleted or empty buffer: treat as instantly consumed.
			v.queue = v.queue[1:]
			v.done = append(v.done, id)
			v.offset = 0
			v.mu.Unlock()
			continue
		}

		if err := v.ensureStreamLocked(buf); err != nil {
			log.Printf("⚠️  Voice output stream failed: %v", err)
			v.state = StateStopped
			v.generation++
			v.mu.Unlock()
			return
		}

		chunk := buf.pcm[v.offset:]
		if max := len(v.out) * 2; len(chunk) > max {
			chunk = chunk[:max]
		}
		for i := 0; i < len(chunk)/2; i++ {
			v.out[i] = int16(binary.LittleEndian.Uint16(chunk[2*i:]))
		}
		for i := len(chunk) / 2; i < len(v.out); i++ {
			v.out[i] = 0
		}
		v.offset += len(chunk)
		if v.offset >= len(buf.pcm) {
			v.queue = v.queue[1:]
			v.done = append(v.done, id)
			v.offset = 0
		}
		stream := v.stream
		v.mu.Unlock()

		if err := stream.Write(); err != nil {
			log.Printf("⚠️  PortAudio write failed: %v", err)
		}
	}
}

// ensureStreamLocked opens (or reopens) the output stream to match the
// buffer's channel count and sample rate.
func (v *paVoice) ensureStreamLocked(buf *paBuffer) error {
	channels := buf.format.Channels()
	if v.stream == nil || v.streamRate != buf.sampleRate || v.streamCh != channels {
		v.closeStreamLocked()

		v.out = make([]int16, paFeedFrames*channels)
		stream, err := portaudio.OpenDefaultStream(0, channels, float64(buf.sampleRate), paFeedFrames, v.out)
		if err != nil {
			return fmt.Errorf("failed to open output stream: %w", err)
		}
		v.stream = stream
		v.streamRate = buf.sampleRate
		v.streamCh = channels
	}
	if !v.streamOn {
		if err := v.stream.Start(); err != nil {
			return fmt.Errorf("failed to start output stream: %w", err)
		}
		v.streamOn = true
	}
	return nil
}

func (v *paVoice) stopStreamLocked() {
	if !v.streamOn {
		return
	}
	v.streamOn = false
	if v.stream != nil {
		_ = v.stream.Stop()
	}
}

func (v *paVoice) closeStreamLocked() {
	if v.stream != nil {
		v.stopStreamLocked()
		_ = v.stream.Close()
		v.stream = nil
	}
}
