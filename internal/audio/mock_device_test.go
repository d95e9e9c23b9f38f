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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// onePCMSecond builds len 16000 bytes: one second of mono 16-bit at 8kHz.
func onePCMSecond() []byte {
	return make([]byte, testRate*2)
}

// TestMockDeviceLifecycle tests basic device setup and teardown
func TestMockDeviceLifecycle(t *testing.T) {
	t.Run("initialize_and_terminate", func(t *testing.T) {
		dev := NewMockDevice()
		require.NoError(t, dev.Initialize())
		require.NoError(t, dev.Terminate())
	})

	t.Run("initialization_error", func(t *testing.T) {
		dev := NewMockDevice()
		dev.SetInitError(fmt.Errorf("device initialization failed"))

		err := dev.Initialize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device initialization failed")
	})
}

// TestMockDeviceBuffers tests buffer bookkeeping
func TestMockDeviceBuffers(t *testing.T) {
	dev := NewMockDevice()
	require.NoError(t, dev.Initialize())

	ids, err := dev.GenerateBuffers(3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	require.NoError(t, dev.UploadBufferData(ids[0], FormatMono16, onePCMSecond(), testRate))
	size, err := dev.BufferSize(ids[0])
	require.NoError(t, err)
	assert.Equal(t, testRate*2, size)

	depth, err := dev.BufferBitDepth(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 16, depth)

	dev.SetBufferBitDepth(ids[0], 0)
	depth, err = dev.BufferBitDepth(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	err = dev.UploadBufferData(BufferID(999), FormatMono16, onePCMSecond(), testRate)
	require.Error(t, err, "upload to unknown buffer must fail")

	require.NoError(t, dev.DeleteBuffers(ids))
	_, err = dev.BufferSize(ids[0])
	require.Error(t, err, "deleted buffer must be gone")
}

// TestMockDeviceConsumptionClock tests the simulated playback clock
func TestMockDeviceConsumptionClock(t *testing.T) {
	dev := NewMockDevice()
	require.NoError(t, dev.Initialize())

	v, err := dev.NewVoice()
	require.NoError(t, err)
	ids, err := dev.GenerateBuffers(2)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, dev.UploadBufferData(id, FormatMono16, onePCMSecond(), testRate))
		require.NoError(t, dev.QueueBuffer(v, id))
	}

	require.NoError(t, dev.Play(v))
	state, err := dev.State(v)
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, state)

	// Nothing consumed while no time passes.
	count, err := dev.ProcessedCount(v)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	dev.Advance(1500 * time.Millisecond)
	count, err = dev.ProcessedCount(v)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one second consumes exactly one buffer")

	id, err := dev.UnqueueBuffer(v)
	require.NoError(t, err)
	assert.Equal(t, ids[0], id, "buffers retire in queue order")

	// Drain the rest: the voice stops itself when the queue runs dry.
	dev.Advance(time.Second)
	state, err = dev.State(v)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	queued, err := dev.QueuedCount(v)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	_, err = dev.UnqueueBuffer(v)
	require.NoError(t, err, "stopped voice releases its whole queue")
}

// TestMockDeviceUnqueueGuards tests unqueue preconditions
func TestMockDeviceUnqueueGuards(t *testing.T) {
	dev := NewMockDevice()
	require.NoError(t, dev.Initialize())

	v, err := dev.NewVoice()
	require.NoError(t, err)

	_, err = dev.UnqueueBuffer(v)
	require.Error(t, err, "empty queue has nothing to unqueue")

	ids, err := dev.GenerateBuffers(1)
	require.NoError(t, err)
	require.NoError(t, dev.UploadBufferData(ids[0], FormatMono16, onePCMSecond(), testRate))
	require.NoError(t, dev.QueueBuffer(v, ids[0]))
	require.NoError(t, dev.Play(v))

	_, err = dev.UnqueueBuffer(v)
	require.Error(t, err, "unconsumed buffer cannot be unqueued while playing")

	require.NoError(t, dev.Stop(v))
	_, err = dev.UnqueueBuffer(v)
	require.NoError(t, err, "stop marks everything consumed")
}

// TestMockDevicePauseFreezesClock tests that paused voices consume nothing
func TestMockDevicePauseFreezesClock(t *testing.T) {
	dev := NewMockDevice()
	require.NoError(t, dev.Initialize())

	v, err := dev.NewVoice()
	require.NoError(t, err)
	ids, err := dev.GenerateBuffers(1)
	require.NoError(t, err)
	require.NoError(t, dev.UploadBufferData(ids[0], FormatMono16, onePCMSecond(), testRate))
	require.NoError(t, dev.QueueBuffer(v, ids[0]))
	require.NoError(t, dev.Play(v))
	require.NoError(t, dev.Pause(v))

	dev.Advance(10 * time.Second)
	count, err := dev.ProcessedCount(v)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	state, err := dev.State(v)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, state)
}
