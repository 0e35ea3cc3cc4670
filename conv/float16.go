// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/postops"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/x448/float16"
)

// ForwardFloat16Args are the buffers and options of Engine.ForwardFloat16.
// See ForwardArgs for the meaning of each field.
type ForwardFloat16Args struct {
	Src, Weights, Bias, Dst []float16.Float16

	PostOps postops.Chain
	Beta    float32
	Layout  *convshape.Layout
	Scratch *scratch.Pad
}

// ForwardFloat16 is the half precision version of Forward: inputs are converted to float32, the
// convolution is accumulated in float32, and the output converted back to float16.
func (e *Engine) ForwardFloat16(s *convshape.Shape, args ForwardFloat16Args) {
	// Dst is always converted, so elements outside the layout's regions are preserved.
	dst := make([]float32, len(args.Dst))
	e.convertFromFloat16(args.Dst, dst)
	var bias []float32
	if args.Bias != nil {
		bias = make([]float32, len(args.Bias))
		e.convertFromFloat16(args.Bias, bias)
	}
	src := make([]float32, len(args.Src))
	e.convertFromFloat16(args.Src, src)
	weights := make([]float32, len(args.Weights))
	e.convertFromFloat16(args.Weights, weights)

	e.Forward(s, ForwardArgs{
		Src:     src,
		Weights: weights,
		Bias:    bias,
		Dst:     dst,
		PostOps: args.PostOps,
		Beta:    args.Beta,
		Layout:  args.Layout,
		Scratch: args.Scratch,
	})
	e.workers.ParallelFor(len(dst), func(start, end int) {
		for i := start; i < end; i++ {
			args.Dst[i] = float16.Fromfloat32(dst[i])
		}
	})
}

func (e *Engine) convertFromFloat16(from []float16.Float16, to []float32) {
	e.workers.ParallelFor(len(from), func(start, end int) {
		for i := start; i < end; i++ {
			to[i] = from[i].Float32()
		}
	})
}
