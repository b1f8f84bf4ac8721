// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// Results is a keyed store of last results (one per query or symbol).
//
// Replace swaps the whole value for a key in one step, so a reader sees
// either the previous value or the new one, never a mix. Values must be
// treated as immutable after they are handed to Replace.
type Results[T any] struct {
	mu        sync.RWMutex
	items     map[string]T
	order     []string // insertion order, oldest first
	capacity  int
	updatedAt time.Time
}

// NewResults creates a store. capacity <= 0 means unbounded; otherwise the
// oldest key is evicted once the store holds more than capacity keys.
func NewResults[T any](capacity int) *Results[T] {
	return &Results[T]{
		items:    make(map[string]T),
		capacity: capacity,
	}
}

// Replace stores value under key, replacing any previous value wholesale.
// A replaced key moves to the newest position.
func (r *Results[T]) Replace(key string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[key]; ok {
		r.removeFromOrder(key)
	}
	r.items[key] = value
	r.order = append(r.order, key)
	r.updatedAt = time.Now()

	for r.capacity > 0 && len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.items, oldest)
	}
}

// Get returns the value stored under key.
func (r *Results[T]) Get(key string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

// Keys returns the stored keys, oldest first.
func (r *Results[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns a copy of the key to value map.
func (r *Results[T]) All() map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]T, len(r.items))
	for k, v := range r.items {
		out[k] = v
	}
	return out
}

// Len returns the number of stored keys.
func (r *Results[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear removes every key.
func (r *Results[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
	r.order = nil
	r.updatedAt = time.Now()
}

// UpdatedAt returns when the store last changed.
func (r *Results[T]) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// removeFromOrder drops key from the order slice. Caller holds the lock.
func (r *Results[T]) removeFromOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}
