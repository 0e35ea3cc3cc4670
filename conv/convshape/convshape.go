// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convshape describes the shape of a convolution as consumed by the GEMM-based
// convolution engine, and builds it from user-facing parameters.
//
// The engine itself never validates user input: Build rejects invalid Params with an error, and the
// resulting Shape is only re-checked for the contract invariants by AssertValid.
package convshape

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Kind is the propagation kind a Shape was built for.
type Kind int

const (
	Forward Kind = iota
	BackwardData
	BackwardWeights
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Forward:
		return "Forward"
	case BackwardData:
		return "BackwardData"
	case BackwardWeights:
		return "BackwardWeights"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dims3 holds a value per spatial axis. 2D convolutions use Depth == 1 (or 0 for paddings).
type Dims3 struct {
	Depth, Height, Width int
}

// Size returns the product of the three dimensions.
func (d Dims3) Size() int { return d.Depth * d.Height * d.Width }

// String implements fmt.Stringer.
func (d Dims3) String() string { return fmt.Sprintf("%dx%dx%d", d.Depth, d.Height, d.Width) }

// Shape is the immutable description of one convolution, shared by every component of the engine.
//
// Channel counts are per group. Tensors are laid out as:
//
//   - src, diff_src: [Batch][Groups][InChannels][In.Depth][In.Height][In.Width] (see Layout for offsets).
//   - dst, diff_dst: [Batch][Groups][OutChannels][Out.Depth][Out.Height][Out.Width].
//   - weights, diff_weights: [Groups][OutChannels][InChannels][Kernel.Depth][Kernel.Height][Kernel.Width].
//   - bias, diff_bias: [Groups][OutChannels].
type Shape struct {
	Kind Kind

	Groups, Batch           int
	InChannels, OutChannels int

	In, Out, Kernel Dims3

	Strides Dims3

	// Dilations of the kernel: 1 means a dense kernel.
	Dilations Dims3

	// Padding holds the begin padding (front, top, left). End padding is implicit in Out.
	Padding Dims3

	// Im2colSize is the number of column buffer elements used by each thread.
	// If 0, expansion is skipped and tensors are fed directly to the matrix multiplication.
	Im2colSize int

	NumThreads int

	// OutHeightBlock and OutWidthBlock are the spatial blocking factors of the forward pass.
	OutHeightBlock, OutWidthBlock int

	// NeedWeightsReduction is set when the batch may be split across threads for the weights gradient.
	NeedWeightsReduction bool

	WithBias bool
}

// Is3D returns whether the input has a depth axis with more than one element.
func (s *Shape) Is3D() bool { return s.In.Depth > 1 }

// KernelSize returns the number of kernel taps.
func (s *Shape) KernelSize() int { return s.Kernel.Size() }

// OutSpatialSize returns the number of output positions of one depth slice (Out.Height * Out.Width).
func (s *Shape) OutSpatialSize() int { return s.Out.Height * s.Out.Width }

// InSpatialSize returns the number of input positions of one channel (all depth slices).
func (s *Shape) InSpatialSize() int { return s.In.Size() }

// WeightsGroupSize returns the number of weights of one group.
func (s *Shape) WeightsGroupSize() int { return s.InChannels * s.OutChannels * s.KernelSize() }

// NumHeightBlocks returns the number of output height blocks.
func (s *Shape) NumHeightBlocks() int { return divUp(s.Out.Height, s.OutHeightBlock) }

// NumWidthBlocks returns the number of output width blocks.
func (s *Shape) NumWidthBlocks() int { return divUp(s.Out.Width, s.OutWidthBlock) }

// WithIm2col returns whether patches are expanded into the column buffer.
func (s *Shape) WithIm2col() bool { return s.Im2colSize > 0 }

// String implements fmt.Stringer.
func (s *Shape) String() string {
	return fmt.Sprintf("%s(g=%d, mb=%d, ic=%d, oc=%d, in=%s, out=%s, kernel=%s, strides=%s, dilations=%s, "+
		"padding=%s, im2col=%d, threads=%d, blocks=%dx%d, reduction=%v, bias=%v)",
		s.Kind, s.Groups, s.Batch, s.InChannels, s.OutChannels, s.In, s.Out, s.Kernel, s.Strides, s.Dilations,
		s.Padding, s.Im2colSize, s.NumThreads, s.OutHeightBlock, s.OutWidthBlock, s.NeedWeightsReduction, s.WithBias)
}

// AssertValid panics (with exceptions.Panicf) if the shape breaks any of the engine's invariants.
func (s *Shape) AssertValid() {
	if s.Groups <= 0 || s.Batch <= 0 || s.InChannels <= 0 || s.OutChannels <= 0 {
		exceptions.Panicf("convshape: groups, batch and channels must be positive, got %s", s)
	}
	for _, d := range []Dims3{s.In, s.Out, s.Kernel, s.Strides, s.Dilations} {
		if d.Depth <= 0 || d.Height <= 0 || d.Width <= 0 {
			exceptions.Panicf("convshape: spatial dimensions, strides and dilations must be positive, got %s", s)
		}
	}
	if s.NumThreads <= 0 {
		exceptions.Panicf("convshape: NumThreads must be positive, got %s", s)
	}
	if s.Im2colSize < 0 {
		exceptions.Panicf("convshape: Im2colSize must be >= 0, got %s", s)
	}
	if s.OutHeightBlock <= 0 || s.OutHeightBlock > s.Out.Height ||
		s.OutWidthBlock <= 0 || s.OutWidthBlock > s.Out.Width {
		exceptions.Panicf("convshape: blocking %dx%d out of range for output %s",
			s.OutHeightBlock, s.OutWidthBlock, s.Out)
	}
	if s.Is3D() && (s.OutHeightBlock != s.Out.Height || s.OutWidthBlock != s.Out.Width) {
		exceptions.Panicf("convshape: 3D convolutions can't be spatially blocked, got %s", s)
	}
	if s.OutWidthBlock != s.Out.Width && s.OutHeightBlock != 1 {
		exceptions.Panicf("convshape: width blocking requires OutHeightBlock == 1, got %s", s)
	}
}

func divUp(a, b int) int {
	return (a + b - 1) / b
}
