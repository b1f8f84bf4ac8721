// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider talks to the external APIs behind each apidesk feature.
//
// There is one client per feature, all sharing a pooled HTTP client:
//
//	chat    OpenAI chat completions, streamed over SSE
//	image   Together.ai image generation
//	video   Pexels video search
//	stocks  Finnhub profile and quote plus Twelve Data history
//	crypto  CoinAPI exchange rate and OHLCV history
//	news    NewsAPI article search
//
// Clients read secrets through a Keyring just before building a request. A
// missing secret fails with credential.MissingCredentialError and nothing is
// sent. Every other failure is a *Error classified as transport, http_status,
// timeout or decode. Calls are never retried.
//
// Usage:
//
//	set := provider.NewSet(store, provider.DefaultOptions())
//	resp, err := set.News.Invoke(ctx, provider.NewsRequest{Query: "golang"})
package provider
