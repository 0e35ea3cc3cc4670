// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scratch books and hands out the temporary buffers of a convolution.
//
// A Pad is an arena keyed by Role, sized once for a shape (see Book) and reusable by any number of
// sequential executions of convolutions that fit in it. Concurrent executions need one Pad each.
package scratch

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gemmconv/conv/convshape"
)

// Role of a scratch buffer.
type Role int

const (
	// Columns holds the per-thread column (im2col) buffers: Im2colSize elements per thread.
	Columns Role = iota

	// WeightsReduction holds the per-thread partial weights gradients: WeightsGroupSize elements per
	// thread of the backward-weights thread grid.
	WeightsReduction

	numRoles
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case Columns:
		return "Columns"
	case WeightsReduction:
		return "WeightsReduction"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Pad is an arena of scratch buffers indexed by Role.
type Pad struct {
	buffers [numRoles][]float32
}

// Sizes returns the number of elements of each role needed by the shape.
func Sizes(s *convshape.Shape) (sizes [numRoles]int) {
	sizes[Columns] = s.Im2colSize * s.NumThreads
	if s.Kind == convshape.BackwardWeights && s.NeedWeightsReduction {
		sizes[WeightsReduction] = s.WeightsGroupSize() * s.NumThreads
	}
	return
}

// Book allocates a Pad large enough for the shape.
func Book(s *convshape.Shape) *Pad {
	p := &Pad{}
	p.Grow(s)
	return p
}

// Grow enlarges the buffers of the pad, if needed, to fit the shape.
// Buffers are reallocated, not copied: contents are lost.
func (p *Pad) Grow(s *convshape.Shape) {
	for role, size := range Sizes(s) {
		if len(p.buffers[role]) < size {
			p.buffers[role] = make([]float32, size)
		}
	}
}

// Fits returns whether the pad is large enough for the shape.
func (p *Pad) Fits(s *convshape.Shape) bool {
	for role, size := range Sizes(s) {
		if len(p.buffers[role]) < size {
			return false
		}
	}
	return true
}

// Bytes returns the total memory held by the pad.
func (p *Pad) Bytes() int {
	var total int
	for _, buf := range p.buffers {
		total += 4 * len(buf)
	}
	return total
}

// Get returns the whole buffer of the role.
func (p *Pad) Get(role Role) []float32 {
	if role < 0 || role >= numRoles {
		exceptions.Panicf("scratch: invalid role %s", role)
	}
	return p.buffers[role]
}

// ThreadSlice returns the disjoint slice [ithr*perThread, (ithr+1)*perThread) of the role's buffer.
func (p *Pad) ThreadSlice(role Role, ithr, perThread int) []float32 {
	buf := p.Get(role)
	start, end := ithr*perThread, (ithr+1)*perThread
	if ithr < 0 || end > len(buf) {
		exceptions.Panicf("scratch: %s slice %d of %d elements out of range (buffer has %d elements)",
			role, ithr, perThread, len(buf))
	}
	return buf[start:end:end]
}
