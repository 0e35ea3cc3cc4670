// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs the parallel regions of the convolution engine.
//
// A Pool holds a soft limit on the number of running goroutines. Parallel regions (Pool.Parallel)
// always start their full team, since their threads may synchronize on a barrier, but are counted
// against the limit. Data-parallel loops (Pool.ParallelFor) only use the workers available, and run
// the remaining chunks inline.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gemmconv/conv/balance"
	"github.com/gomlx/gemmconv/pkg/support/xsync"
)

type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// The actual number of goroutines is higher than that -- because of waits and such.
	maxParallelism int
	mu             sync.Mutex
	numRunning     int

	// extraParallelism is temporarily increased when a worker goes to sleep.
	extraParallelism atomic.Int32
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism (the limit of goroutines is higher that this).
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// NumRunning returns the number of tasks currently running in the pool's goroutines.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with workerPool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= goroutineToParallelismRatio*w.maxParallelism+int(w.extraParallelism.Load())
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with workerPool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// WorkerIsAsleep indicates the worker (the one that called the method) is going to sleep waiting
// for other workers, and temporarily increases the available number of workers.
//
// Call WorkerRestarted when the worker is ready to run again.
func (w *Pool) WorkerIsAsleep() {
	w.extraParallelism.Add(1)
}

// WorkerRestarted indicates the worker (the one that called the method) is ready to run again.
// It should only be called after WorkerIsAsleep.
func (w *Pool) WorkerRestarted() {
	w.extraParallelism.Add(-1)
}

// Thread is the identity of one member of a parallel region started by Pool.Parallel.
type Thread struct {
	// Index of the thread in the team, from 0 to Count-1.
	Index int

	// Count is the size of the team.
	Count int

	pool    *Pool
	barrier *xsync.Barrier
}

// Barrier blocks until every thread of the region has called it. It can be called any number of
// times, as long as all threads call it the same number of times.
func (t Thread) Barrier() {
	if t.Count == 1 {
		return
	}
	t.pool.WorkerIsAsleep()
	t.barrier.Wait()
	t.pool.WorkerRestarted()
}

// Parallel runs fn on a team of n threads, and returns when all of them are finished.
//
// Thread 0 runs on the calling goroutine, the others are started immediately regardless of the
// parallelism limit, so the threads can synchronize with Thread.Barrier. They still count towards
// the limit of the other users of the pool.
//
// If a thread panics, the panic is re-raised by Parallel after all other threads finish. A thread
// that panics before a barrier leaves the others blocked: fn must not panic between barriers.
func (w *Pool) Parallel(n int, fn func(t Thread)) {
	if n < 1 {
		exceptions.Panicf("workerspool.Parallel: team size must be >= 1, got %d", n)
	}
	var barrier *xsync.Barrier
	if n > 1 {
		barrier = xsync.NewBarrier(n)
	}
	var wg sync.WaitGroup
	var firstPanic atomic.Pointer[any]
	run := func(index int) {
		defer func() {
			if r := recover(); r != nil {
				firstPanic.CompareAndSwap(nil, &r)
			}
		}()
		fn(Thread{Index: index, Count: n, pool: w, barrier: barrier})
	}
	if n > 1 {
		wg.Add(n - 1)
		w.mu.Lock()
		for index := 1; index < n; index++ {
			w.lockedRunTaskInGoroutine(func() {
				defer wg.Done()
				run(index)
			})
		}
		w.mu.Unlock()
	}
	run(0)
	if n > 1 {
		w.WorkerIsAsleep()
		wg.Wait()
		w.WorkerRestarted()
	}
	if r := firstPanic.Load(); r != nil {
		panic(*r)
	}
}

// ParallelFor calls fn over contiguous ranges [start, end) that partition [0, n), in parallel if
// there are workers available.
//
// The number of ranges is at most MaxParallelism (runtime.NumCPU() if unlimited), and ranges that
// find no worker available run inline. It returns when all ranges are done. If a range panics, the
// panic is re-raised after all ranges finish.
func (w *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if !w.IsEnabled() {
		fn(0, n)
		return
	}
	numChunks := w.maxParallelism
	if w.IsUnlimited() {
		numChunks = runtime.NumCPU()
	}
	numChunks = min(numChunks, n)
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	var firstPanic atomic.Pointer[any]
	run := func(chunk int) {
		defer func() {
			if r := recover(); r != nil {
				firstPanic.CompareAndSwap(nil, &r)
			}
		}()
		fn(balance.Contiguous(n, numChunks, chunk))
	}
	for chunk := 1; chunk < numChunks; chunk++ {
		task := func() {
			defer wg.Done()
			run(chunk)
		}
		wg.Add(1)
		if !w.StartIfAvailable(task) {
			task()
		}
	}
	run(0)
	w.WorkerIsAsleep()
	wg.Wait()
	w.WorkerRestarted()
	if r := firstPanic.Load(); r != nil {
		panic(*r)
	}
}
