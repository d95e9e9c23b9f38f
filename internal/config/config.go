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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the daemon's environment-driven configuration.
type Config struct {
	NATSURL      string
	PlayerID     string
	Backend      string // "portaudio", "malgo" or "mock"
	TickInterval time.Duration
	VoiceCeiling int
}

// Load reads configuration from a .env file (when present) and the process
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		NATSURL:      getEnv("POLYVOICE_NATS_URL", "nats://localhost:4222"),
		PlayerID:     getEnv("POLYVOICE_PLAYER_ID", "default"),
		Backend:      getEnv("POLYVOICE_BACKEND", "portaudio"),
		TickInterval: 10 * time.Millisecond,
		VoiceCeiling: 256,
	}

	if v := os.Getenv("POLYVOICE_TICK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("POLYVOICE_TICK_MS must be a positive integer, got %q", v)
		}
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("POLYVOICE_VOICE_CEILING"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("POLYVOICE_VOICE_CEILING must be a positive integer, got %q", v)
		}
		cfg.VoiceCeiling = n
	}

	switch cfg.Backend {
	case "portaudio", "malgo", "mock":
	default:
		return nil, fmt.Errorf("POLYVOICE_BACKEND must be portaudio, malgo or mock, got %q", cfg.Backend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
