// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nditer maps a flat work index to and from the coordinates of nested loops.
//
// The coordinates are a mixed-radix number: the last axis varies fastest. Walking a contiguous range
// of flat indices with Step visits exactly the same coordinates, in the same order, as nested loops
// would, regardless of where the range starts.
package nditer

import "github.com/gomlx/exceptions"

// Iterator holds the current coordinates over a fixed set of axis dimensions.
type Iterator struct {
	dims    []int
	indices []int
}

// New creates an Iterator over the given dimensions, positioned at the origin.
// All dimensions must be positive.
func New(dims ...int) *Iterator {
	for axis, dim := range dims {
		if dim <= 0 {
			exceptions.Panicf("nditer.New: dimension of axis %d must be positive, got dims=%v", axis, dims)
		}
	}
	return &Iterator{
		dims:    dims,
		indices: make([]int, len(dims)),
	}
}

// Size is the total number of positions: the product of all dimensions.
func (it *Iterator) Size() int {
	size := 1
	for _, dim := range it.dims {
		size *= dim
	}
	return size
}

// Init positions the iterator at the coordinates of the flat index.
// Flat indices past the end wrap around.
func (it *Iterator) Init(flat int) *Iterator {
	for axis := len(it.dims) - 1; axis >= 0; axis-- {
		it.indices[axis] = flat % it.dims[axis]
		flat /= it.dims[axis]
	}
	return it
}

// Step advances to the next coordinates, carrying over to the previous axes as needed.
// It returns true if the iterator wrapped back to the origin.
func (it *Iterator) Step() (wrapped bool) {
	for axis := len(it.dims) - 1; axis >= 0; axis-- {
		it.indices[axis]++
		if it.indices[axis] < it.dims[axis] {
			return false
		}
		it.indices[axis] = 0
	}
	return true
}

// At returns the current index of the given axis.
func (it *Iterator) At(axis int) int {
	return it.indices[axis]
}

// Indices returns the current coordinates. The returned slice is owned by the iterator and
// changes with Step and Init.
func (it *Iterator) Indices() []int {
	return it.indices
}

// Flat returns the flat index of the current coordinates: the inverse of Init.
func (it *Iterator) Flat() int {
	flat := 0
	for axis, dim := range it.dims {
		flat = flat*dim + it.indices[axis]
	}
	return flat
}
