// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"sync"

	"github.com/google/cuttlefish/instancelock"
)

// LockRegistry tracks the live instancelock.Holder for every instance id a
// group handler currently owns, so shutdown/clear can release them without
// every handler needing to thread holders through the database (spec.md
// §4.4, §5 "Lockfiles: one writer; the OS's advisory lock is the
// authoritative gate").
type LockRegistry struct {
	mu      sync.Mutex
	holders map[int]*instancelock.Holder
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{holders: make(map[int]*instancelock.Holder)}
}

// Track records h under its own instance id.
func (r *LockRegistry) Track(h *instancelock.Holder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders[h.ID()] = h
}

// Release releases and forgets the holder for id, if any.
func (r *LockRegistry) Release(id int) {
	r.mu.Lock()
	h, ok := r.holders[id]
	delete(r.holders, id)
	r.mu.Unlock()
	if ok {
		h.Release()
	}
}

// ReleaseAll releases and forgets every tracked holder (spec.md §8
// scenario 2: "locks released (state token kNotInUse)").
func (r *LockRegistry) ReleaseAll() {
	r.mu.Lock()
	holders := r.holders
	r.holders = make(map[int]*instancelock.Holder)
	r.mu.Unlock()
	for _, h := range holders {
		h.Release()
	}
}
