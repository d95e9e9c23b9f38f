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
	"sync"
	"time"
)

// MockDevice implements Device for testing without hardware dependencies.
// Buffer consumption does not happen in real time; tests drive the clock
// explicitly with Advance.
type MockDevice struct {
	mu          sync.Mutex
	initialized bool
	voices      map[VoiceID]*mockVoice
	buffers     map[BufferID]*mockBuffer
	nextVoice   VoiceID
	nextBuffer  BufferID

	generateCalls int

	initError     error
	newVoiceError error
	generateError error
	uploadError   error
	queueError    error
	unqueueError  error
	playError     error
	stopError     error
}

type mockBuffer struct {
	pcm        []byte
	format     SampleFormat
	sampleRate int
	bitDepth   int
}

type mockVoice struct {
	state    VoiceState
	queue    []BufferID
	consumed int   // buffers fully consumed, still queued
	partial  int64 // samples consumed from the first unconsumed buffer
}

// NewMockDevice creates a new mock audio device.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		voices:     make(map[VoiceID]*mockVoice),
		buffers:    make(map[BufferID]*mockBuffer),
		nextBuffer: 1,
	}
}

// SetInitError configures the device to fail Initialize.
func (m *MockDevice) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetNewVoiceError configures the device to fail NewVoice.
func (m *MockDevice) SetNewVoiceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newVoiceError = err
}

// SetGenerateError configures the device to fail GenerateBuffers.
func (m *MockDevice) SetGenerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateError = err
}

// SetUploadError configures the device to fail UploadBufferData.
func (m *MockDevice) SetUploadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadError = err
}

// SetQueueError configures the device to fail QueueBuffer.
func (m *MockDevice) SetQueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueError = err
}

// SetPlayError configures the device to fail Play.
func (m *MockDevice) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playError = err
}

// SetBufferBitDepth overrides the reported bit depth of a buffer. Setting it
// to zero simulates corrupt hardware bookkeeping.
func (m *MockDevice) SetBufferBitDepth(id BufferID, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.buffers[id]; ok {
		buf.bitDepth = depth
	}
}

// GenerateCalls reports how many times GenerateBuffers has been called.
func (m *MockDevice) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// VoicesCreated reports how many distinct voices the device has handed out.
func (m *MockDevice) VoicesCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.nextVoice)
}

// Advance moves the simulated hardware clock forward, consuming queued
// buffers on every playing voice at each buffer's own sample rate. A voice
// whose queue runs dry stops, exactly like real hardware running out of
// queued data.
func (m *MockDevice) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.voices {
		if v.state != StatePlaying {
			continue
		}
		remaining := d.Seconds()
		for remaining > 0 {
			if v.consumed >= len(v.queue) {
				// Queue drained while still playing: hardware stops.
				v.state = StateStopped
				v.partial = 0
				break
			}
			buf := m.buffers[v.queue[v.consumed]]
			rate := float64(buf.sampleRate * buf.format.Channels())
			total := int64(len(buf.pcm) / 2)
			left := total - v.partial
			budget := int64(remaining * rate)
			if budget < left {
				v.partial += budget
				break
			}
			v.consumed++
			v.partial = 0
			remaining -= float64(left) / rate
		}
	}
}

// Initialize initializes the mock audio subsystem.
func (m *MockDevice) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initError != nil {
		return m.initError
	}
	m.initialized = true
	return nil
}

// Terminate releases every voice and buffer.
func (m *MockDevice) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = make(map[VoiceID]*mockVoice)
	m.buffers = make(map[BufferID]*mockBuffer)
	m.initialized = false
	return nil
}

// NewVoice creates a fresh mock voice.
func (m *MockDevice) NewVoice() (VoiceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.newVoiceError != nil {
		return -1, m.newVoiceError
	}
	id := m.nextVoice
	m.nextVoice++
	m.voices[id] = &mockVoice{state: StateInitial}
	return id, nil
}

// DestroyVoice releases a mock voice.
func (m *MockDevice) DestroyVoice(v VoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.voices[v]; !ok {
		return fmt.Errorf("mock device: no such voice %d", v)
	}
	delete(m.voices, v)
	return nil
}

// GenerateBuffers creates n mock sample buffers.
func (m *MockDevice) GenerateBuffers(n int) ([]BufferID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls++
	if m.generateError != nil {
		return nil, m.generateError
	}
	ids := make([]BufferID, n)
	for i := range ids {
		id := m.nextBuffer
		m.nextBuffer++
		m.buffers[id] = &mockBuffer{bitDepth: 16, sampleRate: 44100}
		ids[i] = id
	}
	return ids, nil
}

// DeleteBuffers releases mock sample buffers.
func (m *MockDevice) DeleteBuffers(ids []BufferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.buffers, id)
	}
	return nil
}

// UploadBufferData replaces a buffer's contents.
func (m *MockDevice) UploadBufferData(id BufferID, format SampleFormat, pcm []byte, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadError != nil {
		return m.uploadError
	}
	buf, ok := m.buffers[id]
	if !ok {
		return fmt.Errorf("mock device: no such buffer %d", id)
	}
	buf.pcm = append(buf.pcm[:0], pcm...)
	buf.format = format
	buf.sampleRate = sampleRate
	return nil
}

// QueueBuffer appends a buffer to a voice's queue.
func (m *MockDevice) QueueBuffer(v VoiceID, id BufferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueError != nil {
		return m.queueError
	}
	voice, ok := m.voices[v]
	if !ok {
		return fmt.Errorf("mock device: no such voice %d", v)
	}
	if _, ok := m.buffers[id]; !ok {
		return fmt.Errorf("mock device: no such buffer %d", id)
	}
	voice.queue = append(voice.queue, id)
	return nil
}

// UnqueueBuffer pops the oldest consumed buffer from a voice's queue.
func (m *MockDevice) UnqueueBuffer(v VoiceID) (BufferID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unqueueError != nil {
		return -1, m.unqueueError
	}
	voice, ok := m.voices[v]
	if !ok {
		return -1, fmt.Errorf("mock device: no such voice %d", v)
	}
	if len(voice.queue) == 0 {
		return -1, fmt.Errorf("mock device: voice %d has no queued buffers", v)
	}
	if voice.state != StateStopped && voice.state != StateInitial && voice.consumed == 0 {
		return -1, fmt.Errorf("mock device: voice %d has no consumed buffers", v)
	}
	id := voice.queue[0]
	voice.queue = voice.queue[1:]
	if voice.consumed > 0 {
		voice.consumed--
	} else {
		voice.partial = 0
	}
	return id, nil
}

// ProcessedCount reports consumed-but-still-queued buffers on a voice.
func (m *MockDevice) ProcessedCount(v VoiceID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	voice, ok := m.voices[v]
	if !ok {
		return 0, fmt.Errorf("mock device: no such voice %d", v)
	}
	return voice.consumed, nil
}

// QueuedCount reports the total queued buffers on a voice.
func (m *MockDevice) QueuedCount(v VoiceID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	voice, ok := m.voices[v]
	if !ok {
		return 0, fmt.Errorf("mock device: no such voice %d", v)
	}
	return len(voice.queue), nil
}

// Play starts or resumes a voice.
func (m *MockDevice) Play(v VoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playError != nil {
		return m.playError
	}
	voice, ok := m.voices[v]
	if !ok {
		return fmt.Errorf("mock device: no such voice %d", v)
	}
	voice.state = StatePlaying
	return nil
}

// Pause halts a playing voice without touching its queue.
func (m *MockDevice) Pause(v VoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	voice, ok := m.voices[v]
	if !ok {
		return fmt.Errorf("mock device: no such voice %d", v)
	}
	if voice.state == StatePlaying {
		voice.state = StatePaused
	}
	return nil
}

// Stop halts a voice and marks every queued buffer consumed.
func (m *MockDevice) Stop(v VoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopError != nil {
		return m.stopError
	}
	voice, ok := m.voices[v]
	if !ok {
		return fmt.Errorf("mock device: no such voice %d", v)
	}
	voice.state = StateStopped
	voice.consumed = len(voice.queue)
	voice.partial = 0
	return nil
}

// State reports the playback state of a voice.
func (m *MockDevice) State(v VoiceID) (VoiceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	voice, ok := m.voices[v]
	if !ok {
		return StateInitial, fmt.Errorf("mock device: no such voice %d", v)
	}
	return voice.state, nil
}

// BufferSize reports the byte size of a buffer's contents.
func (m *MockDevice) BufferSize(id BufferID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[id]
	if !ok {
		return 0, fmt.Errorf("mock device: no such buffer %d", id)
	}
	return len(buf.pcm), nil
}

// BufferBitDepth reports the bit depth of a buffer's contents.
func (m *MockDevice) BufferBitDepth(id BufferID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[id]
	if !ok {
		return 0, fmt.Errorf("mock device: no such buffer %d", id)
	}
	return buf.bitDepth, nil
}
