// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier(t *testing.T) {
	const parties = 5
	const phases = 20
	b := NewBarrier(parties)
	require.Equal(t, parties, b.Parties())

	// Each party increments the counter once per phase: after each Wait, everyone must
	// observe all increments of the phase.
	var counter atomic.Int32
	var failures atomic.Int32
	var wg sync.WaitGroup
	for range parties {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for phase := range phases {
				counter.Add(1)
				b.Wait()
				if got := counter.Load(); got < int32((phase+1)*parties) {
					failures.Add(1)
				}
				b.Wait()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout: barrier deadlocked")
	}
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, int32(parties*phases), counter.Load())
}

func TestBarrierSingleParty(t *testing.T) {
	b := NewBarrier(1)
	// Must never block.
	for range 3 {
		b.Wait()
	}
	err := exceptions.TryCatch[error](func() { NewBarrier(0) })
	require.ErrorContains(t, err, "parties must be >= 1")
}
