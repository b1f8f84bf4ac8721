// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the buffers and records a session renders from.
//
// # Key Types
//
//   - Conversation: append-only chat log with front-only trimming
//   - Turn: one immutable chat message (user, assistant, system)
//   - Results: keyed last-result store with atomic whole-value replacement
//   - SearchResult: one video or news result set
//   - QuoteSnapshot: one stock or crypto quote plus its price history
//   - ImageResult: one generated image
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserTurn("hello"))
//	conv.TruncateToLast(50)
//
//	quotes := model.NewResults[*model.QuoteSnapshot](20)
//	quotes.Replace("AAPL", snap)
package model
