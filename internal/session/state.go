// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
	"github.com/jeranaias/apidesk/internal/provider"
)

// State is the lifecycle state of one feature within a session.
type State string

const (
	StateNeedCredential State = "need_credential"
	StateReady          State = "ready"
	StatePending        State = "pending"
	StateError          State = "error"
)

// featureState is the mutable per-feature record guarded by Controller.mu.
type featureState struct {
	state     State
	lastError *ErrorView
	current   string
	since     time.Time
}

// FeatureView is the display form of one feature.
type FeatureView struct {
	Feature   provider.Feature `json:"feature"`
	State     State            `json:"state"`
	Required  []string         `json:"required"`
	Missing   []string         `json:"missing,omitempty"`
	LastError *ErrorView       `json:"last_error,omitempty"`
	Current   string           `json:"current,omitempty"`
}

// Snapshot is a consistent copy of everything a view renders.
type Snapshot struct {
	SessionID    string                         `json:"session_id"`
	Features     []FeatureView                  `json:"features"`
	Conversation []model.Turn                   `json:"conversation"`
	Images       map[string]model.ImageResult   `json:"images"`
	Videos       map[string]model.SearchResult  `json:"videos"`
	News         map[string]model.SearchResult  `json:"news"`
	Stocks       map[string]model.QuoteSnapshot `json:"stocks"`
	Crypto       map[string]model.QuoteSnapshot `json:"crypto"`
	Credentials  []credential.Status            `json:"credentials"`
	UpdatedAt    time.Time                      `json:"updated_at"`
}

// Feature returns the view of f.
func (s *Snapshot) Feature(f provider.Feature) (FeatureView, bool) {
	for _, v := range s.Features {
		if v.Feature == f {
			return v, true
		}
	}
	return FeatureView{}, false
}
