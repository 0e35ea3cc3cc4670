// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package balance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContiguous(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 10, 64, 101} {
		for _, team := range []int{1, 2, 3, 4, 8, 13} {
			t.Run(fmt.Sprintf("n=%d_team=%d", n, team), func(t *testing.T) {
				next := 0
				prevSize := n + 1
				for tid := range team {
					start, end := Contiguous(n, team, tid)
					require.Equal(t, next, start, "ranges must be contiguous")
					require.LessOrEqual(t, start, end)
					size := end - start
					require.True(t, size == n/team || size == n/team+1 || team == 1,
						"unbalanced range size %d for thread %d", size, tid)
					require.LessOrEqual(t, size, prevSize, "larger ranges must go to lower thread indices")
					prevSize = size
					next = end
				}
				require.Equal(t, n, next, "ranges must cover [0, n)")
			})
		}
	}
}

func TestContiguousExample(t *testing.T) {
	// 10 units in 4 threads: 3, 3, 2, 2.
	want := [][2]int{{0, 3}, {3, 6}, {6, 8}, {8, 10}}
	for tid, w := range want {
		start, end := Contiguous(10, 4, tid)
		assert.Equal(t, w, [2]int{start, end}, "thread %d", tid)
	}

	// More threads than work: trailing threads get empty ranges.
	start, end := Contiguous(2, 4, 3)
	assert.Equal(t, start, end)
}

func TestGrid(t *testing.T) {
	type testCase struct {
		groups, batch, nthr                       int
		wantGroupThreads, wantBatchThreads, idle int
	}
	for _, tc := range []testCase{
		{groups: 1, batch: 8, nthr: 4, wantGroupThreads: 1, wantBatchThreads: 4, idle: 0},
		{groups: 1, batch: 3, nthr: 4, wantGroupThreads: 1, wantBatchThreads: 3, idle: 1},
		{groups: 2, batch: 8, nthr: 4, wantGroupThreads: 2, wantBatchThreads: 2, idle: 0},
		{groups: 2, batch: 8, nthr: 5, wantGroupThreads: 2, wantBatchThreads: 2, idle: 1},
		{groups: 8, batch: 8, nthr: 4, wantGroupThreads: 4, wantBatchThreads: 1, idle: 0},
		{groups: 3, batch: 1, nthr: 4, wantGroupThreads: 3, wantBatchThreads: 1, idle: 1},
		{groups: 4, batch: 2, nthr: 1, wantGroupThreads: 1, wantBatchThreads: 1, idle: 0},
	} {
		t.Run(fmt.Sprintf("g=%d_mb=%d_nthr=%d", tc.groups, tc.batch, tc.nthr), func(t *testing.T) {
			seen := make(map[[2]int]bool)
			idle := 0
			for ithr := range tc.nthr {
				gThr, gThrs, mbThr, mbThrs := Grid(tc.groups, tc.batch, tc.nthr, ithr)
				require.Equal(t, tc.wantGroupThreads, gThrs)
				require.Equal(t, tc.wantBatchThreads, mbThrs)
				if gThr == -1 {
					require.Equal(t, -1, mbThr)
					idle++
					continue
				}
				require.Less(t, gThr, gThrs)
				require.Less(t, mbThr, mbThrs)
				cell := [2]int{gThr, mbThr}
				require.False(t, seen[cell], "grid cell %v assigned twice", cell)
				seen[cell] = true
			}
			assert.Equal(t, tc.idle, idle)
			assert.Len(t, seen, tc.wantGroupThreads*tc.wantBatchThreads, "every grid cell must be assigned")
		})
	}
}
