// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config configures the root logger.
type Config struct {
	Level   string    // debug, info, warn, error
	Format  string    // console or json
	Output  io.Writer // defaults to os.Stderr
	NoColor bool      // console format only
}

// DefaultConfig returns an info-level console logger on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatConsole,
		Output: os.Stderr,
	}
}

// ParseLevel converts a level name into a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// New builds a logger from cfg. An unknown level falls back to info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if strings.EqualFold(cfg.Format, FormatConsole) || cfg.Format == "" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor || os.Getenv("NO_COLOR") != "",
			TimeFormat: time.TimeOnly,
		}
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component derives a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
