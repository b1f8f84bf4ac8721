// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the buffers and records a session renders from.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one message in a conversation. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

// NewSystemTurn creates a system turn.
func NewSystemTurn(content string) Turn {
	return NewTurn(RoleSystem, content)
}

// Preview returns the content truncated to maxLen runes.
func (t Turn) Preview(maxLen int) string {
	runes := []rune(t.Content)
	if len(runes) <= maxLen {
		return t.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// String formats the turn for logs and debugging output.
func (t Turn) String() string {
	return fmt.Sprintf("%s: %s", t.Role.DisplayName(), t.Preview(60))
}

// generateID creates a short random identifier for a turn.
func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("turn_%d", time.Now().UnixNano())
	}
	return "turn_" + hex.EncodeToString(b)
}
