// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nditer

import (
	"slices"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteratorOrder(t *testing.T) {
	// Same enumeration as nested loops: g, n, d, hb, wb.
	dims := []int{2, 3, 1, 2, 3}
	var want [][]int
	for g := range dims[0] {
		for n := range dims[1] {
			for d := range dims[2] {
				for hb := range dims[3] {
					for wb := range dims[4] {
						want = append(want, []int{g, n, d, hb, wb})
					}
				}
			}
		}
	}

	it := New(dims...)
	require.Equal(t, len(want), it.Size())
	for flat, w := range want {
		require.Equal(t, w, it.Indices(), "flat index %d", flat)
		require.Equal(t, flat, it.Flat())
		wrapped := it.Step()
		require.Equal(t, flat == len(want)-1, wrapped)
	}
	// After wrapping it is back at the origin.
	assert.Equal(t, []int{0, 0, 0, 0, 0}, it.Indices())
}

func TestIteratorInitFromAnyStart(t *testing.T) {
	dims := []int{3, 4, 5}
	size := 3 * 4 * 5
	reference := New(dims...)
	all := make([][]int, size)
	for flat := range size {
		all[flat] = slices.Clone(reference.Indices())
		reference.Step()
	}

	// Starting mid-way, as a thread with a partial work range would, produces the same sequence.
	for _, start := range []int{0, 1, 17, 42, size - 1} {
		it := New(dims...).Init(start)
		for flat := start; flat < size; flat++ {
			require.Equal(t, all[flat], it.Indices(), "start=%d, flat=%d", start, flat)
			require.Equal(t, flat, it.Flat())
			it.Step()
		}
	}
	assert.Equal(t, 2, New(dims...).Init(42).At(0))
	assert.Equal(t, 0, New(dims...).Init(42).At(1))
	assert.Equal(t, 2, New(dims...).Init(42).At(2))
}

func TestIteratorInvalid(t *testing.T) {
	err := exceptions.TryCatch[error](func() { New(2, 0, 3) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "axis 1")
}
