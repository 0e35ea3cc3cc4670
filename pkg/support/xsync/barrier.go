// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import (
	"sync"

	"github.com/gomlx/exceptions"
)

// Barrier is a reusable (cyclic) barrier for a fixed number of parties.
//
// Each call to Wait blocks until all parties have called Wait, at which point all of them are released
// and the barrier is reset for the next phase.
//
// All writes made by any party before calling Wait are visible to every party after Wait returns.
type Barrier struct {
	mu         sync.Mutex
	cond       sync.Cond
	parties    int
	arrived    int
	generation uint64
}

// NewBarrier creates a Barrier for the given number of parties.
// It panics (with exceptions.Panicf) if parties < 1.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		exceptions.Panicf("xsync.NewBarrier: parties must be >= 1, got %d", parties)
	}
	b := &Barrier{parties: parties}
	b.cond.L = &b.mu
	return b
}

// Parties returns the number of parties the barrier was created for.
func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until all parties have called Wait for the current generation.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	generation := b.generation
	b.arrived++
	if b.arrived == b.parties {
		// Last one to arrive opens the barrier and starts a new generation.
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	// The loop is necessary because sync.Cond.Wait() can have spurious wakeups.
	for generation == b.generation {
		b.cond.Wait()
	}
}
