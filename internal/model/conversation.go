// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// CONVERSATION BUFFER
// =============================================================================

// Conversation is the append-only log of chat turns for one session.
// Trimming only ever drops the oldest turns; order is never changed.
type Conversation struct {
	mu        sync.RWMutex
	turns     []Turn
	updatedAt time.Time
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		turns:     make([]Turn, 0, 16),
		updatedAt: time.Now(),
	}
}

// Append adds a turn at the end of the log.
func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	c.updatedAt = time.Now()
}

// TruncateToLast keeps the most recent n turns in their original order.
// n <= 0 empties the conversation. Returns the number of turns dropped.
func (c *Conversation) TruncateToLast(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 {
		n = 0
	}
	drop := len(c.turns) - n
	if drop <= 0 {
		return 0
	}

	// Copy into a fresh slice so the dropped prefix can be collected and
	// snapshots handed out earlier keep their contents.
	kept := make([]Turn, n, max(n, 16))
	copy(kept, c.turns[drop:])
	c.turns = kept
	c.updatedAt = time.Now()
	return drop
}

// Clear removes every turn.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = make([]Turn, 0, 16)
	c.updatedAt = time.Now()
}

// Turns returns a copy of the turns in conversation order.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// IsEmpty reports whether the conversation has no turns.
func (c *Conversation) IsEmpty() bool {
	return c.Len() == 0
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
