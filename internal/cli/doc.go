// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the apidesk command line.
//
// Commands:
//
//	apidesk serve   [--host H] [--port P] [--watch-config]
//	apidesk shell
//	apidesk config  show | path | init [--force]
//	apidesk version
//
// The shell drives one in-process session: plain input is sent as chat and
// slash commands run the other features. Keys entered with /key are read
// without echo and stay in memory.
//
// Colors follow NO_COLOR and FORCE_COLOR, then whether stdout is a terminal.
package cli
