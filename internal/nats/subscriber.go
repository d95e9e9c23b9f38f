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

// Package nats receives audio payloads and playback commands for the engine
// over a NATS broker.
package nats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nmelo/polyvoice/internal/audio"
	"github.com/nmelo/polyvoice/internal/source"
	"github.com/nmelo/polyvoice/internal/transport"
)

// AudioMessage delivers a complete encoded audio file to a player.
type AudioMessage struct {
	StreamID    string `json:"stream_id"`    // Unique identifier for this sound
	AudioData   []byte `json:"audio_data"`   // Complete audio file data
	AudioFormat string `json:"audio_format"` // Format key (e.g. "wav", "ogg", "mp3")
	Loop        bool   `json:"loop"`         // Loop on end of data
	Autoplay    bool   `json:"autoplay"`     // Start playing on arrival
}

// ControlMessage drives playback of a previously delivered sound.
type ControlMessage struct {
	StreamID string `json:"stream_id"`
	Action   string `json:"action"` // "play", "pause", "stop", "seek", "loop"
	OffsetMs int64  `json:"offset_ms,omitempty"`
	Loop     bool   `json:"loop,omitempty"`
}

// Connection is the slice of *nats.Conn the subscriber needs, kept as an
// interface for dependency injection in tests.
type Connection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ConnectionAdapter adapts *nats.Conn to the Connection interface.
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnectionAdapter) Close() {
	a.conn.Close()
}

// Subscriber wires NATS subjects to a Player: encoded audio and raw PCM
// frames become registered streams, control messages drive them.
type Subscriber struct {
	conn     Connection
	playerID string
	player   *audio.Player
	registry *source.Registry

	mu         sync.Mutex
	streams    map[string]*audio.Stream
	assemblers map[uint32]*transport.Assembler
}

// NewSubscriber connects to NATS with retry and builds a subscriber for the
// given player id.
func NewSubscriber(natsURL, playerID string, player *audio.Player, registry *source.Registry) (*Subscriber, error) {
	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}
	log.Printf("✅ Connected to NATS at %s", natsURL)

	return NewSubscriberWithConnection(NewConnectionAdapter(nc), playerID, player, registry), nil
}

// NewSubscriberWithConnection builds a subscriber over an existing
// connection (for testing).
func NewSubscriberWithConnection(conn Connection, playerID string, player *audio.Player, registry *source.Registry) *Subscriber {
	return &Subscriber{
		conn:       conn,
		playerID:   playerID,
		player:     player,
		registry:   registry,
		streams:    make(map[string]*audio.Stream),
		assemblers: make(map[uint32]*transport.Assembler),
	}
}

// Start subscribes to the player's audio, PCM and control subjects plus the
// broadcast audio subject.
func (s *Subscriber) Start() error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{fmt.Sprintf("polyvoice.%s.audio", s.playerID), s.handleAudio},
		{"polyvoice.broadcast.audio", s.handleAudio},
		{fmt.Sprintf("polyvoice.%s.pcm", s.playerID), s.handlePCM},
		{fmt.Sprintf("polyvoice.%s.control", s.playerID), s.handleControl},
	}
	for _, sub := range subjects {
		if _, err := s.conn.Subscribe(sub.subject, sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", sub.subject, err)
		}
	}
	log.Printf("🎧 Subscribed to playback subjects for player %s", s.playerID)
	return nil
}

// Stream looks up a registered stream by id.
func (s *Subscriber) Stream(id string) (*audio.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	return st, ok
}

// handleAudio decodes a delivered audio file and registers it as a stream.
func (s *Subscriber) handleAudio(msg *nats.Msg) {
	var am AudioMessage
	if err := json.Unmarshal(msg.Data, &am); err != nil {
		log.Printf("❌ Failed to unmarshal audio message: %v", err)
		return
	}
	log.Printf("📥 Received audio: stream=%s, size=%d bytes, format=%s",
		am.StreamID, len(am.AudioData), am.AudioFormat)

	buf, err := s.registry.Decode(am.AudioFormat, bytes.NewReader(am.AudioData))
	if err != nil {
		log.Printf("❌ Failed to decode audio for stream %s: %v", am.StreamID, err)
		return
	}
	s.register(am.StreamID, buf, am.Loop, am.Autoplay)
}

// handlePCM feeds one transport frame into its stream's assembler and
// registers the stream once the end frame lands.
func (s *Subscriber) handlePCM(msg *nats.Msg) {
	frame, err := transport.DeserializeFrame(msg.Data)
	if err != nil {
		log.Printf("❌ Dropping bad PCM frame: %v", err)
		return
	}

	s.mu.Lock()
	asm, ok := s.assemblers[frame.StreamID]
	if !ok {
		asm = transport.NewAssembler(frame.StreamID)
		s.assemblers[frame.StreamID] = asm
	}
	done, err := asm.Feed(frame)
	if err != nil {
		delete(s.assemblers, frame.StreamID)
		s.mu.Unlock()
		log.Printf("❌ Dropping PCM stream %d: %v", frame.StreamID, err)
		return
	}
	if !done {
		s.mu.Unlock()
		return
	}
	delete(s.assemblers, frame.StreamID)
	s.mu.Unlock()

	buf, err := asm.Buffer()
	if err != nil {
		log.Printf("❌ Failed to assemble PCM stream %d: %v", frame.StreamID, err)
		return
	}
	s.register(fmt.Sprintf("pcm-%d", frame.StreamID), buf, false, true)
}

// handleControl drives a registered stream.
func (s *Subscriber) handleControl(msg *nats.Msg) {
	var cm ControlMessage
	if err := json.Unmarshal(msg.Data, &cm); err != nil {
		log.Printf("❌ Failed to unmarshal control message: %v", err)
		return
	}

	st, ok := s.Stream(cm.StreamID)
	if !ok {
		log.Printf("⚠️  Control for unknown stream %s ignored", cm.StreamID)
		return
	}

	var err error
	switch cm.Action {
	case "play":
		err = st.Play()
	case "pause":
		err = st.Pause()
	case "stop":
		err = st.Stop()
	case "seek":
		err = st.SetPlayingOffset(time.Duration(cm.OffsetMs) * time.Millisecond)
	case "loop":
		st.SetLooping(cm.Loop)
	default:
		log.Printf("⚠️  Unknown control action %q for stream %s", cm.Action, cm.StreamID)
		return
	}
	if err != nil {
		log.Printf("⚠️  Control %s on stream %s failed: %v", cm.Action, cm.StreamID, err)
	}
}

// register replaces any stream already under the id and optionally starts
// playback.
func (s *Subscriber) register(id string, buf *source.Buffer, loop, autoplay bool) {
	st, err := s.player.NewStream(buf)
	if err != nil {
		log.Printf("❌ Failed to create stream %s: %v", id, err)
		return
	}
	st.SetLooping(loop)

	s.mu.Lock()
	old, replaced := s.streams[id]
	s.streams[id] = st
	s.mu.Unlock()
	if replaced {
		s.player.RemoveStream(old)
	}

	if autoplay {
		if err := st.Play(); err != nil {
			log.Printf("⚠️  Autoplay of stream %s failed: %v", id, err)
			return
		}
		log.Printf("🔊 Playing stream %s", id)
	}
}

// Close closes the NATS connection.
func (s *Subscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
		log.Println("🔌 NATS connection closed")
	}
}
