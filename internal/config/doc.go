// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for apidesk.
//
// Supports TOML, YAML and JSON configuration files, with sensible defaults,
// .env and environment variable overrides, and validation. The file never
// carries provider API keys; those are entered per session.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - ServerConfig: Listen address, auth token, CORS and throttling
//   - SessionConfig: Timeouts, history and result limits
//   - ProvidersConfig: Base URLs and tuning for each upstream service
//   - LoggingConfig: Log level and format
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (APIDESK_*), including those from ./.env
//   - ~/.apidesk/config.toml
//   - ~/.apidesk/config.yaml
//   - ~/.apidesk/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr := session.NewManager(cfg.SessionSettings(), factory, logger)
package config
