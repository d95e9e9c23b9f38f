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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmelo/polyvoice/internal/source"
)

const testRate = 8000

// toneSource builds an in-memory mono source of the given length in frames.
func toneSource(t *testing.T, frames int) *source.Buffer {
	t.Helper()
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = int16(i % 128)
	}
	buf, err := source.NewBuffer(samples, 1, testRate)
	require.NoError(t, err)
	return buf
}

func newTestPlayer(t *testing.T, ceiling int) (*Player, *MockDevice) {
	t.Helper()
	dev := NewMockDevice()
	require.NoError(t, dev.Initialize())
	return NewPlayer(dev, ceiling), dev
}

// TestStreamPreload tests initial buffer priming on Play
func TestStreamPreload(t *testing.T) {
	t.Run("full_buffer_set_queued", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000)) // 3.5s
		require.NoError(t, err)

		require.NoError(t, st.Play())
		assert.Equal(t, StatusPlaying, st.Status())
		assert.Equal(t, time.Duration(0), st.PlayingOffset())
		assert.Equal(t, 3500*time.Millisecond, st.Duration())

		active, _ := player.Stats()
		assert.Equal(t, 1, active, "one voice should be leased")
	})

	t.Run("short_source_queues_fewer_buffers", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, testRate)) // exactly 1s
		require.NoError(t, err)

		require.NoError(t, st.Play())
		assert.Equal(t, StatusPlaying, st.Status())
		assert.Equal(t, 1, dev.GenerateCalls())
	})

	t.Run("empty_source_finishes_immediately", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 0))
		require.NoError(t, err)

		require.NoError(t, st.Play())
		assert.Equal(t, StatusStopped, st.Status())

		active, pooled := player.Stats()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, pooled, "voice should return to the pool")
	})
}

// TestStreamNaturalEnd tests play-to-completion and voice recycling
func TestStreamNaturalEnd(t *testing.T) {
	player, dev := newTestPlayer(t, 4)
	st, err := player.NewStream(toneSource(t, testRate)) // 1s
	require.NoError(t, err)

	require.NoError(t, st.Play())
	assert.Equal(t, StatusPlaying, st.Status())

	dev.Advance(600 * time.Millisecond)
	player.Update()
	assert.Equal(t, StatusPlaying, st.Status(), "should still be playing mid-source")

	dev.Advance(600 * time.Millisecond)
	player.Update()
	assert.Equal(t, StatusStopped, st.Status(), "should stop once the queue drains")
	assert.Equal(t, time.Duration(0), st.PlayingOffset(), "offset resets on completion")

	active, pooled := player.Stats()
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, pooled, "voice should be recycled, not destroyed")

	// The source rewinds on completion, so the same stream can replay.
	require.NoError(t, st.Play())
	assert.Equal(t, StatusPlaying, st.Status())
	assert.Equal(t, 1, dev.VoicesCreated(), "replay should reuse the pooled voice")
}

// TestStreamOffsetAdvances tests that the offset tally tracks completed buffers
func TestStreamOffsetAdvances(t *testing.T) {
	player, dev := newTestPlayer(t, 4)
	st, err := player.NewStream(toneSource(t, 28000)) // 3.5s
	require.NoError(t, err)
	require.NoError(t, st.Play())

	duration := st.Duration()
	for _, want := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		dev.Advance(1050 * time.Millisecond)
		player.Update()
		assert.Equal(t, want, st.PlayingOffset())
		assert.LessOrEqual(t, st.PlayingOffset(), duration, "offset never exceeds duration")
		assert.Equal(t, StatusPlaying, st.Status())
	}

	dev.Advance(600 * time.Millisecond)
	player.Update()
	assert.Equal(t, StatusStopped, st.Status())
}

// TestStreamLooping tests loop-on-end behavior
func TestStreamLooping(t *testing.T) {
	t.Run("loops_indefinitely", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, testRate)) // 1s, chunk-aligned
		require.NoError(t, err)
		st.SetLooping(true)
		require.NoError(t, st.Play())

		for i := 0; i < 10; i++ {
			dev.Advance(500 * time.Millisecond)
			player.Update()
			require.Equal(t, StatusPlaying, st.Status(), "looping stream must not stop on its own")
			assert.Less(t, st.PlayingOffset(), st.Duration())

			active, _ := player.Stats()
			require.Equal(t, 1, active, "looping voice must survive the recycle sweep")
		}

		require.NoError(t, st.Stop())
		assert.Equal(t, StatusStopped, st.Status())
		active, pooled := player.Stats()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, pooled)
	})

	t.Run("offset_wraps_at_loop_boundary", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 10000)) // 1.25s, not chunk-aligned
		require.NoError(t, err)
		st.SetLooping(true)
		require.NoError(t, st.Play())

		prev := st.PlayingOffset()
		wraps := 0
		for i := 0; i < 24; i++ {
			dev.Advance(500 * time.Millisecond)
			player.Update()
			off := st.PlayingOffset()
			require.GreaterOrEqual(t, off, time.Duration(0))
			require.LessOrEqual(t, off, st.Duration())
			if off < prev {
				wraps++
			}
			prev = off
		}
		assert.GreaterOrEqual(t, wraps, 2, "offset should rewind when playback wraps")
		assert.Equal(t, StatusPlaying, st.Status())
	})

	t.Run("toggle_looping_mid_flight", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, testRate))
		require.NoError(t, err)
		st.SetLooping(true)
		require.NoError(t, st.Play())
		assert.True(t, st.Looping())

		dev.Advance(2500 * time.Millisecond)
		player.Update()
		require.Equal(t, StatusPlaying, st.Status())

		// Once looping is off, the next fills run out of data and the stream
		// winds down on its own.
		st.SetLooping(false)
		for i := 0; i < 8 && st.Status() == StatusPlaying; i++ {
			dev.Advance(time.Second)
			player.Update()
		}
		assert.Equal(t, StatusStopped, st.Status())
	})
}

// TestStreamUnderrunHeal tests recovery when refills fall behind consumption
func TestStreamUnderrunHeal(t *testing.T) {
	player, dev := newTestPlayer(t, 4)
	st, err := player.NewStream(toneSource(t, 28000)) // 3.5s
	require.NoError(t, err)
	require.NoError(t, st.Play())

	// Starve the stream: the hardware chews through all three buffers with no
	// Update tick to refill them.
	dev.Advance(3200 * time.Millisecond)

	player.Update()
	assert.Equal(t, StatusPlaying, st.Status(), "update should resume a starved voice")
	assert.Equal(t, 3*time.Second, st.PlayingOffset())

	dev.Advance(600 * time.Millisecond)
	player.Update()
	assert.Equal(t, StatusStopped, st.Status(), "tail should still drain to completion")
}

// TestStreamCorruptBuffer tests that a corrupt session is isolated
func TestStreamCorruptBuffer(t *testing.T) {
	t.Run("zero_bit_depth_drops_stream", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)

		st1, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		st2, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)

		require.NoError(t, st1.Play())
		require.NoError(t, st2.Play())

		// First buffer generated belongs to st1's set.
		dev.SetBufferBitDepth(BufferID(1), 0)

		dev.Advance(1050 * time.Millisecond)
		player.Update()

		assert.Equal(t, StatusStopped, st1.Status(), "corrupt stream should be dropped")
		assert.Equal(t, StatusPlaying, st2.Status(), "healthy stream must keep playing")
		assert.Equal(t, time.Second, st2.PlayingOffset())

		active, _ := player.Stats()
		assert.Equal(t, 1, active, "corrupt stream's voice should be back in the pool")
	})

	t.Run("sub_byte_bit_depth_drops_stream", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)

		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		// A reported depth under one byte is as corrupt as zero.
		dev.SetBufferBitDepth(BufferID(1), 4)

		dev.Advance(1050 * time.Millisecond)
		player.Update()

		assert.Equal(t, StatusStopped, st.Status(), "corrupt stream should be dropped")
		active, pooled := player.Stats()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, pooled)
	})

	t.Run("misaligned_bit_depth_drops_stream", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)

		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		dev.SetBufferBitDepth(BufferID(1), 12)

		dev.Advance(1050 * time.Millisecond)
		player.Update()

		assert.Equal(t, StatusStopped, st.Status())
	})
}

// TestStreamPauseResume tests pause and in-place resume
func TestStreamPauseResume(t *testing.T) {
	player, dev := newTestPlayer(t, 4)
	st, err := player.NewStream(toneSource(t, 28000))
	require.NoError(t, err)
	require.NoError(t, st.Play())

	dev.Advance(1050 * time.Millisecond)
	player.Update()
	require.Equal(t, time.Second, st.PlayingOffset())

	require.NoError(t, st.Pause())
	assert.Equal(t, StatusPaused, st.Status())

	// Time passes while paused: nothing is consumed, nothing is swept.
	dev.Advance(5 * time.Second)
	player.Update()
	assert.Equal(t, StatusPaused, st.Status())
	assert.Equal(t, time.Second, st.PlayingOffset(), "offset frozen while paused")
	active, _ := player.Stats()
	assert.Equal(t, 1, active, "paused voice keeps its lease")

	generated := dev.GenerateCalls()
	require.NoError(t, st.Play())
	assert.Equal(t, StatusPlaying, st.Status())
	assert.Equal(t, time.Second, st.PlayingOffset(), "resume picks up where pause left off")
	assert.Equal(t, generated, dev.GenerateCalls(), "resume must not re-preload")

	dev.Advance(1050 * time.Millisecond)
	player.Update()
	assert.Equal(t, 2*time.Second, st.PlayingOffset())

	t.Run("pause_when_not_playing_is_noop", func(t *testing.T) {
		require.NoError(t, st.Stop())
		require.NoError(t, st.Pause())
		assert.Equal(t, StatusStopped, st.Status())
	})
}

// TestStreamSeek tests SetPlayingOffset in every lifecycle state
func TestStreamSeek(t *testing.T) {
	t.Run("seek_while_playing", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		require.NoError(t, st.SetPlayingOffset(1500*time.Millisecond))
		assert.Equal(t, StatusPlaying, st.Status(), "playing stream keeps playing across a seek")
		assert.Equal(t, 1500*time.Millisecond, st.PlayingOffset())

		dev.Advance(1050 * time.Millisecond)
		player.Update()
		assert.Equal(t, 2500*time.Millisecond, st.PlayingOffset())
	})

	t.Run("seek_while_paused", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())
		require.NoError(t, st.Pause())

		require.NoError(t, st.SetPlayingOffset(2*time.Second))
		assert.Equal(t, StatusPaused, st.Status(), "paused stream stays paused across a seek")
		assert.Equal(t, 2*time.Second, st.PlayingOffset())

		// Sweep must not reap the re-primed voice while it waits paused.
		dev.Advance(time.Second)
		player.Update()
		active, _ := player.Stats()
		require.Equal(t, 1, active)

		require.NoError(t, st.Play())
		assert.Equal(t, StatusPlaying, st.Status())
		dev.Advance(1050 * time.Millisecond)
		player.Update()
		assert.Equal(t, 3*time.Second, st.PlayingOffset())
	})

	t.Run("seek_past_end_clamps", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		require.NoError(t, st.SetPlayingOffset(time.Hour))
		assert.Equal(t, StatusStopped, st.Status(), "seeking to the end leaves nothing to play")
	})

	t.Run("negative_seek_clamps_to_start", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		require.NoError(t, st.SetPlayingOffset(-time.Second))
		assert.Equal(t, time.Duration(0), st.PlayingOffset())
		assert.Equal(t, StatusPlaying, st.Status())
	})

	t.Run("seek_on_idle_stream_primes_next_play", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)

		require.NoError(t, st.SetPlayingOffset(3*time.Second))
		assert.Equal(t, time.Duration(0), st.PlayingOffset(), "idle stream reports no position")

		require.NoError(t, st.Play())
		assert.Equal(t, StatusPlaying, st.Status())
		assert.Equal(t, 3*time.Second, st.PlayingOffset())

		dev.Advance(600 * time.Millisecond)
		player.Update()
		assert.Equal(t, StatusStopped, st.Status(), "only the tail remained")
	})
}

// TestStreamStop tests explicit stop semantics
func TestStreamStop(t *testing.T) {
	t.Run("stop_is_idempotent", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		require.NoError(t, st.Stop())
		assert.Equal(t, StatusStopped, st.Status())
		require.NoError(t, st.Stop(), "second stop must be a no-op")
		require.NoError(t, st.Stop())

		active, pooled := player.Stats()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, pooled)
	})

	t.Run("stop_before_first_play", func(t *testing.T) {
		player, _ := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Stop())
		assert.Equal(t, StatusStopped, st.Status())
	})

	t.Run("play_while_playing_restarts", func(t *testing.T) {
		player, dev := newTestPlayer(t, 4)
		st, err := player.NewStream(toneSource(t, 28000))
		require.NoError(t, err)
		require.NoError(t, st.Play())

		dev.Advance(1050 * time.Millisecond)
		player.Update()
		require.Equal(t, time.Second, st.PlayingOffset())

		require.NoError(t, st.Play())
		assert.Equal(t, StatusPlaying, st.Status())
		assert.Equal(t, time.Duration(0), st.PlayingOffset(), "restart begins from the top")
		assert.Equal(t, 1, dev.VoicesCreated(), "restart reuses the recycled voice")
	})
}
