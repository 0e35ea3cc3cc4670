// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package balance statically partitions work among a fixed team of threads.
//
// All functions are pure: the same (work, team, thread) input always yields the same assignment,
// which is what makes results reproducible regardless of goroutine scheduling.
package balance

// Contiguous splits n work units among team threads and returns the half-open range [start, end)
// assigned to thread tid.
//
// Ranges are contiguous, disjoint and cover [0, n). Their sizes are either ceil(n/team) or one less,
// with the larger ranges assigned to the lowest thread indices.
// If team <= 1 or n == 0 the whole range is returned.
func Contiguous(n, team, tid int) (start, end int) {
	if team <= 1 || n == 0 {
		return 0, n
	}
	n1 := (n + team - 1) / team // Size of the larger ranges.
	n2 := n1 - 1
	t1 := n - n2*team // Number of threads getting n1 units.
	size := n2
	if tid < t1 {
		size = n1
	}
	if tid <= t1 {
		start = tid * n1
	} else {
		start = t1*n1 + (tid-t1)*n2
	}
	return start, start + size
}

// Grid assigns thread ithr of a team of nthr threads to a 2D grid of groupThreads x batchThreads,
// used when computing weight gradients.
//
// Groups are split first: groupThreads = min(groups, nthr). The remaining parallelism goes to the
// batch axis: batchThreads = min(batch, nthr/groupThreads). When batchThreads > 1, partial results of
// the threads sharing a group must be reduced.
//
// Threads that don't fit in the grid get groupThread == batchThread == -1 (no work), but the counts
// are still returned, since such threads may still need to take part in a barrier.
func Grid(groups, batch, nthr, ithr int) (groupThread, groupThreads, batchThread, batchThreads int) {
	groupThreads = min(groups, nthr)
	batchThreads = min(batch, nthr/groupThreads)
	if ithr/batchThreads >= groups {
		return -1, groupThreads, -1, batchThreads
	}
	return ithr / batchThreads, groupThreads, ithr % batchThreads, batchThreads
}
