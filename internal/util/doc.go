// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by apidesk packages.
//
//   - AtomicWriteFile: crash-safe file writes, used for the config file
//   - TruncateWidth, PadRight, StringWidth: display-width aware text for
//     the terminal shell
//   - IntToString: compact integer formatting
package util
