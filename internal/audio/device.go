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

// VoiceID identifies a hardware playback voice. Valid ids are >= 0.
type VoiceID int

// BufferID identifies a hardware sample buffer.
type BufferID int

// VoiceState mirrors the hardware playback state of a voice.
type VoiceState uint8

const (
	// StateInitial is a freshly created voice that has never played.
	StateInitial VoiceState = iota
	StateStopped
	StatePaused
	StatePlaying
)

func (s VoiceState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

// SampleFormat describes the PCM layout of uploaded buffer data.
type SampleFormat uint8

const (
	FormatMono16 SampleFormat = iota
	FormatStereo16
)

// Channels returns the channel count of the format.
func (f SampleFormat) Channels() int {
	if f == FormatStereo16 {
		return 2
	}
	return 1
}

// formatFor maps a channel count to a hardware sample format.
// Counts other than 1 and 2 have no mapping.
func formatFor(channels int) (SampleFormat, bool) {
	switch channels {
	case 1:
		return FormatMono16, true
	case 2:
		return FormatStereo16, true
	}
	return FormatMono16, false
}

// Device provides an abstraction layer over the audio hardware.
// This enables dependency injection and makes testing hardware-independent.
//
// Voices consume queued buffers in FIFO order. Buffer completion is
// asynchronous: the device reports how many queued buffers have been fully
// consumed and the caller unqueues them one at a time. Device operations are
// not assumed safe for concurrent use across goroutines; callers serialize
// access per voice.
type Device interface {
	// Initialize the audio subsystem.
	Initialize() error

	// Terminate the audio subsystem, releasing every voice and buffer.
	Terminate() error

	// NewVoice creates a fresh playback voice.
	NewVoice() (VoiceID, error)

	// DestroyVoice releases a voice handle for good.
	DestroyVoice(v VoiceID) error

	// GenerateBuffers creates n sample buffers.
	GenerateBuffers(n int) ([]BufferID, error)

	// DeleteBuffers releases sample buffers.
	DeleteBuffers(ids []BufferID) error

	// UploadBufferData replaces the contents of a buffer with little-endian
	// 16-bit PCM bytes.
	UploadBufferData(id BufferID, format SampleFormat, pcm []byte, sampleRate int) error

	// QueueBuffer appends a buffer to a voice's playback queue.
	QueueBuffer(v VoiceID, id BufferID) error

	// UnqueueBuffer removes and returns the oldest consumed buffer from a
	// voice's queue. While the voice is stopped any queued buffer may be
	// unqueued regardless of consumption.
	UnqueueBuffer(v VoiceID) (BufferID, error)

	// ProcessedCount reports how many queued buffers the voice has fully
	// consumed but not yet had unqueued.
	ProcessedCount(v VoiceID) (int, error)

	// QueuedCount reports how many buffers are currently queued on the voice,
	// consumed or not.
	QueuedCount(v VoiceID) (int, error)

	// Play starts or resumes consumption of the voice's queue.
	Play(v VoiceID) error

	// Pause halts consumption without touching the queue.
	Pause(v VoiceID) error

	// Stop halts consumption and marks every queued buffer consumed.
	Stop(v VoiceID) error

	// State reports the playback state of the voice.
	State(v VoiceID) (VoiceState, error)

	// BufferSize reports the byte size of a buffer's current contents.
	BufferSize(id BufferID) (int, error)

	// BufferBitDepth reports the bit depth of a buffer's current contents.
	// A zero bit depth signals corrupt buffer bookkeeping.
	BufferBitDepth(id BufferID) (int, error)
}
