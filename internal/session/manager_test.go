// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/provider"
)

func nopFactory(keys *credential.Store) Invokers {
	return provider.NewSet(keys, provider.DefaultOptions())
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("Default RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("Default HistoryLimit = %d, want 50", cfg.HistoryLimit)
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("Default IdleTimeout = %v, want 30m", cfg.IdleTimeout)
	}
	if cfg.MaxSessions != 0 {
		t.Errorf("Default MaxSessions = %d, want 0 (unbounded)", cfg.MaxSessions)
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestManager_CreateGetEnd(t *testing.T) {
	m := NewManager(DefaultConfig(), nopFactory, zerolog.Nop())

	ctrl, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := uuid.Parse(ctrl.ID()); err != nil {
		t.Errorf("session id %q is not a UUID", ctrl.ID())
	}

	got, err := m.Get(ctrl.ID())
	if err != nil || got != ctrl {
		t.Fatalf("Get = %v, %v; want the created controller", got, err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}

	if err := m.End(ctrl.ID()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !ctrl.Closed() {
		t.Error("End should close the controller")
	}
	if _, err := m.Get(ctrl.ID()); err != ErrSessionNotFound {
		t.Errorf("Get after End = %v, want ErrSessionNotFound", err)
	}
	if err := m.End(ctrl.ID()); err != ErrSessionNotFound {
		t.Errorf("second End = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_SessionsHaveSeparateKeys(t *testing.T) {
	m := NewManager(DefaultConfig(), nopFactory, zerolog.Nop())
	a, _ := m.Create()
	b, _ := m.Create()

	if err := a.SetCredential("openai", "sk-a"); err != nil {
		t.Fatal(err)
	}
	if b.State(provider.FeatureChat) != StateNeedCredential {
		t.Error("credential set on one session leaked into another")
	}
}

func TestManager_MaxSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	m := NewManager(cfg, nopFactory, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := m.Create(); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := m.Create(); err != ErrTooManySessions {
		t.Errorf("third Create = %v, want ErrTooManySessions", err)
	}
}

// =============================================================================
// TIMEOUT TESTS
// =============================================================================

func TestManager_Reap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Minute

	var logs bytes.Buffer
	m := NewManager(cfg, nopFactory, zerolog.New(&logs))
	m.now = clock.Now

	idle, _ := m.Create()
	active, _ := m.Create()

	clock.Advance(6 * time.Minute)
	m.Touch(active.ID())
	clock.Advance(5 * time.Minute)

	ids := m.Reap()
	if len(ids) != 1 || ids[0] != idle.ID() {
		t.Fatalf("Reap = %v, want [%s]", ids, idle.ID())
	}
	if !idle.Closed() {
		t.Error("reaped session should be closed")
	}
	if !strings.Contains(logs.String(), `"idle":"11m"`) {
		t.Errorf("SESSION_EXPIRED log missing idle duration: %s", logs.String())
	}
	if _, err := m.Get(active.ID()); err != nil {
		t.Errorf("active session was reaped: %v", err)
	}
}

func TestManager_ReapDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	m := NewManager(cfg, nopFactory, zerolog.Nop())
	m.Create()
	if ids := m.Reap(); len(ids) != 0 {
		t.Errorf("Reap with no timeout = %v, want none", ids)
	}
}

func TestManager_Status(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.IdleTimeout = 15 * time.Minute
	m := NewManager(cfg, nopFactory, zerolog.Nop())
	m.now = clock.Now

	ctrl, _ := m.Create()
	clock.Advance(5 * time.Minute)

	st, err := m.Status(ctrl.ID())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.IdleTime != 5*time.Minute {
		t.Errorf("IdleTime = %v, want 5m", st.IdleTime)
	}
	if st.RemainingTime != 10*time.Minute {
		t.Errorf("RemainingTime = %v, want 10m", st.RemainingTime)
	}
	if st.IsExpired {
		t.Error("session should not be expired")
	}

	if _, err := m.Status("nope"); err != ErrSessionNotFound {
		t.Errorf("Status(unknown) = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReapInterval = 5 * time.Millisecond
	m := NewManager(cfg, nopFactory, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(DefaultConfig(), nopFactory, zerolog.Nop())
	a, _ := m.Create()
	b, _ := m.Create()

	m.Shutdown()
	if m.Count() != 0 {
		t.Errorf("Count after Shutdown = %d", m.Count())
	}
	if !a.Closed() || !b.Closed() {
		t.Error("Shutdown should close every session")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{5 * time.Minute, "5m"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
	}

	for _, tc := range tests {
		got := FormatDuration(tc.input)
		if got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(DefaultConfig(), nopFactory, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctrl, err := m.Create()
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				_, _ = m.Get(ctrl.ID())
				_, _ = m.Status(ctrl.ID())
				_ = m.Count()
				_ = m.End(ctrl.ID())
			}
		}()
	}
	wg.Wait()

	if m.Count() != 0 {
		t.Errorf("Count = %d after all sessions ended", m.Count())
	}
}
