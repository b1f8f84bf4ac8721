// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/metrics"
	"github.com/jeranaias/apidesk/internal/util"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// ProviderFactory builds the provider clients for a new session over that
// session's own keyring.
type ProviderFactory func(keys *credential.Store) Invokers

// entry tracks one live session.
type entry struct {
	ctrl         *Controller
	startTime    time.Time
	lastActivity time.Time
}

// Manager owns every live session and ends the idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	cfg       Config
	providers ProviderFactory
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config, providers ProviderFactory, logger zerolog.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*entry),
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// Config returns the session configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Create starts a new session with an empty credential store.
func (m *Manager) Create() (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := generateSessionID()
	keys := credential.NewStore()
	var invokers Invokers
	if m.providers != nil {
		invokers = m.providers(keys)
	}
	ctrl := NewController(id, m.cfg, Deps{
		Keys:      keys,
		Providers: invokers,
		Logger:    m.logger,
		Now:       m.now,
	})

	now := m.now()
	m.sessions[id] = &entry{ctrl: ctrl, startTime: now, lastActivity: now}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))

	m.logger.Info().Str("session", id).Int("active", len(m.sessions)).Msg("SESSION_CREATED")
	return ctrl, nil
}

// Get returns the session and records activity on it.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastActivity = m.now()
	return e.ctrl, nil
}

// Touch records activity without returning the session.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastActivity = m.now()
	}
}

// End closes and forgets a session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.ctrl.Close()
	m.logger.Info().Str("session", id).Msg("SESSION_ENDED")
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IDs returns the live session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*entry)
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Close()
	}
}

// =============================================================================
// TIMEOUT CHECKING
// =============================================================================

// Reap ends every session idle for at least IdleTimeout and returns their
// ids. A session with a call in flight still counts as idle only by its
// last recorded activity.
func (m *Manager) Reap() []string {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}

	now := m.now()
	m.mu.Lock()
	var expired []*entry
	var ids []string
	var idle []time.Duration
	for id, e := range m.sessions {
		if d := now.Sub(e.lastActivity); d >= m.cfg.IdleTimeout {
			expired = append(expired, e)
			ids = append(ids, id)
			idle = append(idle, d)
			delete(m.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for i, e := range expired {
		e.ctrl.Close()
		metrics.SessionsExpired.Inc()
		m.logger.Info().Str("session", ids[i]).Str("idle", FormatDuration(idle[i])).Msg("SESSION_EXPIRED")
	}
	sort.Strings(ids)
	return ids
}

// Run reaps idle sessions every ReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current status of one session.
type Status struct {
	SessionID     string        `json:"session_id"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration"`
	IdleTime      time.Duration `json:"idle_time"`
	RemainingTime time.Duration `json:"remaining_time"`
	IsExpired     bool          `json:"is_expired"`
}

// Status returns the status of session id.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return Status{}, ErrSessionNotFound
	}

	now := m.now()
	idle := now.Sub(e.lastActivity)
	st := Status{
		SessionID: id,
		StartTime: e.startTime,
		Duration:  now.Sub(e.startTime),
		IdleTime:  idle,
	}
	if m.cfg.IdleTimeout > 0 {
		st.RemainingTime = max(m.cfg.IdleTimeout-idle, 0)
		st.IsExpired = idle >= m.cfg.IdleTimeout
	}
	return st, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateSessionID creates a unique session ID.
func generateSessionID() string {
	return uuid.NewString()
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int(d.Seconds())
		return util.IntToString(secs) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return util.IntToString(mins) + "m"
	}
	return util.IntToString(mins) + "m " + util.IntToString(secs) + "s"
}
