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

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmelo/polyvoice/internal/audio"
	"github.com/nmelo/polyvoice/internal/config"
	"github.com/nmelo/polyvoice/internal/nats"
	"github.com/nmelo/polyvoice/internal/source"
)

func main() {
	natsURL := flag.String("nats", "", "NATS server URL (overrides POLYVOICE_NATS_URL)")
	playerID := flag.String("id", "", "Player identifier (overrides POLYVOICE_PLAYER_ID)")
	backend := flag.String("backend", "", "Audio backend: portaudio, malgo, or mock")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if *natsURL != "" {
		cfg.NATSURL = *natsURL
	}
	if *playerID != "" {
		cfg.PlayerID = *playerID
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	log.Printf("🚀 Starting Polyvoice Player Service")
	log.Printf("📋 Player ID: %s", cfg.PlayerID)
	log.Printf("🎯 NATS URL: %s", cfg.NATSURL)
	log.Printf("🔊 Backend: %s", cfg.Backend)

	var dev audio.Device
	switch cfg.Backend {
	case "portaudio":
		dev = audio.NewPortAudioDevice()
	case "malgo":
		dev = audio.NewMalgoDevice()
	case "mock":
		dev = audio.NewMockDevice()
	default:
		log.Fatalf("❌ Unknown audio backend: %s", cfg.Backend)
	}

	if err := dev.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize audio backend: %v", err)
	}
	defer dev.Terminate()

	player := audio.NewPlayer(dev, cfg.VoiceCeiling)
	defer player.Close()

	subscriber, err := nats.NewSubscriber(cfg.NATSURL, cfg.PlayerID, player, source.DefaultRegistry())
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer subscriber.Close()

	if err := subscriber.Start(); err != nil {
		log.Fatalf("❌ Failed to subscribe to audio topics: %v", err)
	}

	// Preload any audio files passed on the command line.
	for _, path := range flag.Args() {
		buf, err := source.DefaultRegistry().Open(path)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", path, err)
			continue
		}
		stream, err := player.NewStream(buf)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", path, err)
			continue
		}
		if err := stream.Play(); err != nil {
			log.Printf("⚠️  Failed to play %s: %v", path, err)
			continue
		}
		log.Printf("🎵 Playing %s (%s)", path, buf.Duration())
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("✅ Polyvoice player running (tick %s). Press Ctrl+C to stop.", cfg.TickInterval)

	for {
		select {
		case <-ticker.C:
			player.Update()
		case sig := <-sigChan:
			log.Printf("🛑 Received signal %v, shutting down...", sig)
			return
		}
	}
}
