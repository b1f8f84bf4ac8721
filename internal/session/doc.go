// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates user actions, credentials and provider calls.
//
// A Controller holds one session. Every feature (chat, image, video, stocks,
// crypto, news) moves through a small state machine:
//
//	need_credential -> ready -> pending -> ready | error
//
// An action is validated first, then refused with ErrBusy if the same
// feature is already pending, then gated on credentials. Only after those
// checks does it reach a provider. Results replace earlier results for the
// same key as a whole.
//
// The Manager creates sessions, hands them out by id and ends those idle
// past the configured timeout.
//
// # Usage
//
//	mgr := session.NewManager(session.DefaultConfig(), factory, logger)
//	ctrl, _ := mgr.Create()
//	ctrl.SetCredential("newsapi", key)
//	res, err := ctrl.SubmitSearch(ctx, provider.FeatureNews, "golang")
package session
