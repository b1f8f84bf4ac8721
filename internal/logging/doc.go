// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog loggers used across apidesk.
//
// Components receive a zerolog.Logger and derive children tagged with a
// component name. Messages use stable upper-case event names
// (SERVER_START, SESSION_CREATED, PROVIDER_CALL) so logs can be grepped.
//
// Secrets never reach a logger; API keys are identified by fingerprint only.
package logging
