// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrMissingCredential is matched by every MissingCredentialError.
var ErrMissingCredential = errors.New("missing credential")

// ErrInvalidCredential indicates an empty provider id or secret was supplied.
var ErrInvalidCredential = errors.New("invalid credential")

// MissingCredentialError reports which provider ids have no stored secret.
type MissingCredentialError struct {
	Providers []string
}

// Error implements the error interface.
func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing credential for %s", strings.Join(e.Providers, ", "))
}

// Is lets errors.Is match ErrMissingCredential.
func (e *MissingCredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// =============================================================================
// STORE
// =============================================================================

// Store holds named secrets for the lifetime of a session.
// Writers exclude readers, so a reader never observes a half-written secret.
type Store struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{secrets: make(map[string]string)}
}

// Set stores or overwrites the secret for id.
func (s *Store) Set(id, secret string) error {
	id = normalizeID(id)
	secret = strings.TrimSpace(secret)
	if id == "" {
		return fmt.Errorf("%w: provider id is empty", ErrInvalidCredential)
	}
	if secret == "" {
		return fmt.Errorf("%w: secret for %s is empty", ErrInvalidCredential, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[id] = secret
	return nil
}

// Has reports whether a secret is stored for id.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[normalizeID(id)]
	return ok
}

// Get returns the secret for id, or a *MissingCredentialError.
func (s *Store) Get(id string) (string, error) {
	id = normalizeID(id)

	s.mu.RLock()
	secret, ok := s.secrets[id]
	s.mu.RUnlock()

	if !ok {
		return "", &MissingCredentialError{Providers: []string{id}}
	}
	return secret, nil
}

// Missing returns the ids from required that have no stored secret,
// preserving the order of required.
func (s *Store) Missing(required ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, id := range required {
		if _, ok := s.secrets[normalizeID(id)]; !ok {
			missing = append(missing, normalizeID(id))
		}
	}
	return missing
}

// Clear removes the secret for id. Clearing an absent id is a no-op.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, normalizeID(id))
}

// ClearAll removes every stored secret. Safe to call repeatedly.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.secrets)
}

// Len returns the number of stored secrets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// IDs returns the configured provider ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.secrets))
	for id := range s.secrets {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// =============================================================================
// STATUS AND FINGERPRINTS
// =============================================================================

// Status is the display-safe view of one credential slot.
type Status struct {
	Provider    string `json:"provider"`
	Configured  bool   `json:"configured"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Status reports every id in known, plus any other configured ids, in the
// order known lists them followed by the extras sorted.
func (s *Store) Status(known []string) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(known))
	out := make([]Status, 0, len(known))
	for _, id := range known {
		id = normalizeID(id)
		seen[id] = true
		secret, ok := s.secrets[id]
		st := Status{Provider: id, Configured: ok}
		if ok {
			st.Fingerprint = Fingerprint(secret)
		}
		out = append(out, st)
	}

	var extras []string
	for id := range s.secrets {
		if !seen[id] {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	for _, id := range extras {
		out = append(out, Status{Provider: id, Configured: true, Fingerprint: Fingerprint(s.secrets[id])})
	}
	return out
}

// Fingerprint returns the stored secret's fingerprint for logging, or "none".
func (s *Store) Fingerprint(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Fingerprint(s.secrets[normalizeID(id)])
}

// Fingerprint returns a short SHA-256 identifier for a secret without
// exposing any part of it.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}

// String lists configured ids with redacted secrets.
func (s *Store) String() string {
	ids := s.IDs()
	if len(ids) == 0 {
		return "credential.Store{}"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + "=[REDACTED]"
	}
	return "credential.Store{" + strings.Join(parts, " ") + "}"
}

// GoString keeps %#v from printing the secrets map.
func (s *Store) GoString() string {
	return s.String()
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
