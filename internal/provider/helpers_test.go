// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// countingServer wraps handler and counts every request that reaches it.
type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

// optionsFor points every provider at baseURL.
func optionsFor(baseURL string) Options {
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.Now = func() time.Time { return fixedNow }
	opts.BaseURLs = map[string]string{}
	for _, id := range KnownProviders {
		opts.BaseURLs[id] = baseURL
	}
	return opts
}

func storeWith(t *testing.T, pairs ...string) *credential.Store {
	t.Helper()
	s := credential.NewStore()
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := s.Set(pairs[i], pairs[i+1]); err != nil {
			t.Fatalf("Set(%q): %v", pairs[i], err)
		}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
