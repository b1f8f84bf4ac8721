// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "time"

// Config holds session limits.
type Config struct {
	// RequestTimeout bounds each action, including a full chat stream.
	RequestTimeout time.Duration

	// HistoryLimit is the number of chat turns kept; older turns drop from
	// the front. Zero keeps everything.
	HistoryLimit int

	// ResultsPerFeature caps the result keys kept per feature. Zero is unbounded.
	ResultsPerFeature int

	// SystemPrompt is sent ahead of the conversation when set.
	SystemPrompt string

	// IdleTimeout ends sessions without activity. Zero disables expiry.
	IdleTimeout time.Duration

	// ReapInterval is how often Manager.Run looks for idle sessions.
	ReapInterval time.Duration

	// MaxSessions caps live sessions. Zero is unbounded.
	MaxSessions int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    30 * time.Second,
		HistoryLimit:      50,
		ResultsPerFeature: 20,
		IdleTimeout:       30 * time.Minute,
		ReapInterval:      time.Minute,
	}
}
