// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential holds the API keys a user supplies for one session.
//
// Secrets live only in process memory. They are never logged, serialized,
// or written to disk; diagnostics use a short SHA-256 fingerprint instead.
//
// # Key Types
//
//   - Store: concurrency-safe map of provider id to secret
//   - MissingCredentialError: returned by Get when no secret is stored
//   - Status: configured/fingerprint view used by key management screens
//
// # Usage
//
//	store := credential.NewStore()
//	_ = store.Set("openai", key)
//
//	secret, err := store.Get("openai")
//	if errors.Is(err, credential.ErrMissingCredential) {
//	    // prompt for the key
//	}
package credential
