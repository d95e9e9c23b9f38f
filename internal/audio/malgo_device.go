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

	"github.com/gen2brain/malgo"
)

// MalgoDevice implements Device over miniaudio. Unlike the PortAudio
// backend's blocking writes, malgo pulls: each voice owns a playback device
// whose data callback drains the queued buffers.
type MalgoDevice struct {
	mu          sync.Mutex
	ctx         *malgo.AllocatedContext
	initialized bool
	buffers     map[BufferID]*mBuffer
	voices      map[VoiceID]*mVoice
	nextBuffer  BufferID
	nextVoice   VoiceID
}

type mBuffer struct {
	pcm        []byte
	format     SampleFormat
	sampleRate int
}

// NewMalgoDevice creates a new miniaudio-backed device.
func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{
		buffers:    make(map[BufferID]*mBuffer),
		voices:     make(map[VoiceID]*mVoice),
		nextBuffer: 1,
	}
}

// Initialize brings up the miniaudio context.
func (d *MalgoDevice) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	d.ctx = ctx
	d.initialized = true
	return nil
}

// Terminate releases every voice and the miniaudio context.
func (d *MalgoDevice) Terminate() error {
	d.mu.Lock()
	voices := make([]*mVoice, 0, len(d.voices))
	for _, v := range d.voices {
		voices = append(voices, v)
	}
	d.voices = make(map[VoiceID]*mVoice)
	d.buffers = make(map[BufferID]*mBuffer)
	ctx := d.ctx
	d.ctx = nil
	d.initialized = false
	d.mu.Unlock()

	for _, v := range voices {
		v.shutdown()
	}
	if ctx != nil {
		_ = ctx.Uninit()
		ctx.Free()
	}
	return nil
}

// NewVoice creates a playback voice.
func (d *MalgoDevice) NewVoice() (VoiceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return -1, fmt.Errorf("miniaudio not initialized")
	}
	id := d.nextVoice
	d.nextVoice++
	d.voices[id] = &mVoice{dev: d, state: StateInitial}
	return id, nil
}

// DestroyVoice releases a voice and its playback device.
func (d *MalgoDevice) DestroyVoice(id VoiceID) error {
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
func (d *MalgoDevice) GenerateBuffers(n int) ([]BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]BufferID, n)
	for i := range ids {
		id := d.nextBuffer
		d.nextBuffer++
		d.buffers[id] = &mBuffer{sampleRate: 44100}
		ids[i] = id
	}
	return ids, nil
}

// DeleteBuffers releases sample buffers.
func (d *MalgoDevice) DeleteBuffers(ids []BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.buffers, id)
	}
	return nil
}

// UploadBufferData replaces a buffer's contents.
func (d *MalgoDevice) UploadBufferData(id BufferID, format SampleFormat, pcm []byte, sampleRate int) error {
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

func (d *MalgoDevice) buffer(id BufferID) *mBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers[id]
}

func (d *MalgoDevice) voice(id VoiceID) (*mVoice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.voices[id]
	if !ok {
		return nil, fmt.Errorf("no such voice %d", id)
	}
	return v, nil
}

// QueueBuffer appends a buffer to a voice's queue.
func (d *MalgoDevice) QueueBuffer(vid VoiceID, id BufferID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	buf := d.buffer(id)
	if buf == nil {
		return fmt.Errorf("no such buffer %d", id)
	}

	v.mu.Lock()
	v.queue = append(v.queue, id)
	needDevice := v.state == StatePlaying && v.device == nil
	v.mu.Unlock()
	if needDevice {
		return v.ensureDevice(buf)
	}
	return nil
}

// UnqueueBuffer pops the oldest consumed buffer from a voice.
func (d *MalgoDevice) UnqueueBuffer(vid VoiceID) (BufferID, error) {
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
func (d *MalgoDevice) ProcessedCount(vid VoiceID) (int, error) {
	v, err := d.voice(vid)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.done), nil
}

// QueuedCount reports all buffers queued on a voice.
func (d *MalgoDevice) QueuedCount(vid VoiceID) (int, error) {
	v, err := d.voice(vid)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue) + len(v.done), nil
}

// Play starts or resumes consumption.
func (d *MalgoDevice) Play(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.play()
}

// Pause halts consumption, keeping the queue.
func (d *MalgoDevice) Pause(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.pause()
}

// Stop halts consumption and marks every queued buffer consumed.
func (d *MalgoDevice) Stop(vid VoiceID) error {
	v, err := d.voice(vid)
	if err != nil {
		return err
	}
	return v.stop()
}

// State reports the playback state of a voice.
func (d *MalgoDevice) State(vid VoiceID) (VoiceState, error) {
	v, err := d.voice(vid)
	if err != nil {
		return StateInitial, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, nil
}

// BufferSize reports a buffer's byte size.
func (d *MalgoDevice) BufferSize(id BufferID) (int, error) {
	buf := d.buffer(id)
	if buf == nil {
		return 0, fmt.Errorf("no such buffer %d", id)
	}
	return len(buf.pcm), nil
}

// BufferBitDepth reports a buffer's bit depth. Uploads are always 16-bit.
func (d *MalgoDevice) BufferBitDepth(id BufferID) (int, error) {
	buf := d.buffer(id)
	if buf == nil {
		return 0, fmt.Errorf("no such buffer %d", id)
	}
	return 16, nil
}

// mVoice is one playback voice: a buffer queue plus a lazily created malgo
// playback device whose callback drains it.
type mVoice struct {
	dev *MalgoDevice

	mu     sync.Mutex
	state  VoiceState
	queue  []BufferID
	done   []BufferID
	offset int

	device  *malgo.Device
	devRate int
	devCh   int
}

// Stop and Uninit on a malgo device block until the audio thread leaves its
// data callback, and that callback takes v.mu. The control methods below must
// therefore release v.mu before touching the device.

func (v *mVoice) play() error {
	v.mu.Lock()
	if v.state == StatePlaying {
		v.mu.Unlock()
		return nil
	}
	v.state = StatePlaying
	if len(v.queue) == 0 {
		// Nothing to feed yet; the device comes up on the next queue.
		v.mu.Unlock()
		return nil
	}
	first := v.queue[0]
	v.mu.Unlock()

	buf := v.dev.buffer(first)
	if buf == nil {
		return nil
	}
	return v.ensureDevice(buf)
}

func (v *mVoice) pause() error {
	v.mu.Lock()
	if v.state != StatePlaying {
		v.mu.Unlock()
		return nil
	}
	v.state = StatePaused
	device := v.device
	v.mu.Unlock()

	if device != nil {
		if err := device.Stop(); err != nil {
			return fmt.Errorf("failed to pause playback device: %w", err)
		}
	}
	return nil
}

func (v *mVoice) stop() error {
	v.mu.Lock()
	v.state = StateStopped
	v.done = append(v.done, v.queue...)
	v.queue = nil
	v.offset = 0
	device := v.device
	v.mu.Unlock()

	if device != nil && device.IsStarted() {
		if err := device.Stop(); err != nil {
			return fmt.Errorf("failed to stop playback device: %w", err)
		}
	}
	return nil
}

func (v *mVoice) shutdown() {
	v.mu.Lock()
	v.state = StateStopped
	v.queue = nil
	v.done = nil
	device := v.device
	v.device = nil
	v.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}

// ensureDevice brings up (or reuses) the malgo playback device matched to the
// buffer's format, then starts it.
func (v *mVoice) ensureDevice(buf *mBuffer) error {
	channels := buf.format.Channels()

	v.mu.Lock()
	var stale *malgo.Device
	if v.device != nil && (v.devRate != buf.sampleRate || v.devCh != channels) {
		stale = v.device
		v.device = nil
	}
	device := v.device
	v.mu.Unlock()

	if stale != nil {
		stale.Uninit()
	}

	if device == nil {
		cfg := malgo.DefaultDeviceConfig(malgo.Playback)
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = uint32(channels)
		cfg.SampleRate = uint32(buf.sampleRate)
		cfg.PerformanceProfile = malgo.LowLatency

		created, err := malgo.InitDevice(v.dev.ctx.Context, cfg, malgo.DeviceCallbacks{
			Data: func(output, _ []byte, frameCount uint32) {
				v.fill(output)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to init playback device: %w", err)
		}
		v.mu.Lock()
		v.device = created
		v.devRate = buf.sampleRate
		v.devCh = channels
		v.mu.Unlock()
		device = created
	}
	if !device.IsStarted() {
		if err := device.Start(); err != nil {
			return fmt.Errorf("failed to start playback device: %w", err)
		}
	}
	return nil
}

// fill runs on the audio thread: copy queued PCM into the output period,
// retire drained buffers, and pad with silence on underrun. A voice whose
// queue runs dry flips to Stopped, like hardware running out of data.
func (v *mVoice) fill(output []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for n < len(output) && v.state == StatePlaying {
		if len(v.queue) == 0 {
			v.state = StateStopped
			v.offset = 0
			break
		}
		id := v.queue[0]
		buf := v.dev.buffer(id)
		if buf == nil || len(buf.pcm) <= v.offset {
			v.queue = v.queue[1:]
			v.done = append(v.done, id)
			v.offset = 0
			continue
		}
		c := copy(output[n:], buf.pcm[v.offset:])
		n += c
		v.offset += c
		if v.offset >= len(buf.pcm) {
			v.queue = v.queue[1:]
			v.done = append(v.done, id)
			v.offset = 0
		}
	}
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}
