// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes apidesk sessions over HTTP.
//
// Each session is a session.Controller; the server only translates requests
// into controller operations and controller state into JSON. Provider keys
// are accepted per session and never echoed back.
//
// # Endpoints
//
//   - POST   /v1/sessions                          - Create a session
//   - GET    /v1/sessions/{id}                     - Session snapshot
//   - DELETE /v1/sessions/{id}                     - End a session
//   - GET    /v1/sessions/{id}/credentials         - Credential status
//   - PUT    /v1/sessions/{id}/credentials/{p}     - Set a provider key
//   - DELETE /v1/sessions/{id}/credentials[/{p}]   - Clear keys
//   - POST   /v1/sessions/{id}/chat                - Chat (JSON or SSE)
//   - DELETE /v1/sessions/{id}/chat                - Clear the conversation
//   - POST   /v1/sessions/{id}/images              - Generate an image
//   - GET    /v1/sessions/{id}/images/download     - Download a generated image
//   - POST   /v1/sessions/{id}/videos              - Search videos
//   - GET    /v1/sessions/{id}/videos/download     - Stream a video file (?query=&index=)
//   - POST   /v1/sessions/{id}/news                - Search news
//   - POST   /v1/sessions/{id}/quotes/stocks       - Stock quote
//   - POST   /v1/sessions/{id}/quotes/crypto       - Crypto quote
//   - GET    /v1/sessions/{id}/ws                  - Snapshot push over WebSocket
//   - GET    /health                               - Health check
//   - GET    /metrics                              - Prometheus metrics
//
// # Errors
//
// Failures carry {"error": {...}, "feature": {...}}. Validation is 400, a
// missing key is 428, a feature already in flight is 409, an upstream
// failure is 502 and an unknown session is 404.
//
// # Middleware
//
//   - Bearer token authentication with constant-time comparison
//   - CORS allow-list, also applied to WebSocket origins
//   - Per-IP rate limiting
//   - Security headers and panic recovery
//   - Structured request logging and request metrics
//
// # Usage
//
//	srv := server.New(server.Config{Addr: ":8787"}, mgr, logger)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
