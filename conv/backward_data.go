// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/gomlx/gemmconv/conv/balance"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/gemm"
	"github.com/gomlx/gemmconv/conv/im2col"
	"github.com/gomlx/gemmconv/conv/nditer"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/gomlx/gemmconv/internal/workerspool"
	"k8s.io/klog/v2"
)

// BackwardDataArgs are the buffers and options of Engine.BackwardData.
type BackwardDataArgs struct {
	// DiffDst is the gradient of the output, and DiffSrc receives the gradient of the input.
	DiffDst, Weights, DiffSrc []float32

	// Layout of DiffSrc (src-side) and DiffDst (dst-side). If nil, the dense layout is used.
	Layout *convshape.Layout

	// Scratch holds the temporary buffers. If nil one is booked for the call.
	Scratch *scratch.Pad
}

// BackwardData computes the gradient of the convolution with respect to its input: args.DiffSrc is
// overwritten.
//
// Work units are (group, batch) pairs, split contiguously among the shape's threads.
func (e *Engine) BackwardData(s *convshape.Shape, args BackwardDataArgs) {
	checkKind("BackwardData", s, convshape.BackwardData)
	layout := resolveLayout(s, args.Layout)
	layout.AssertFits(s, len(args.DiffSrc), len(args.DiffDst))
	wSize := s.WeightsGroupSize()
	checkLen("BackwardData", "Weights", args.Weights, s.Groups*wSize)
	pad := resolveScratch(s, args.Scratch)

	m := s.OutSpatialSize()
	M := m * s.Out.Depth
	N := s.InChannels * s.KernelSize()
	K := s.OutChannels
	regionSize := s.InChannels * s.InSpatialSize()
	work := s.Groups * s.Batch
	if klog.V(1).Enabled() {
		klog.Infof("conv.BackwardData: %s, work=%d units, im2col=%v", s, work, s.WithIm2col())
	}

	// 3D regions are accumulated depth slice by depth slice.
	if s.Is3D() {
		e.workers.ParallelFor(work, func(start, end int) {
			for unit := start; unit < end; unit++ {
				offset := layout.Src(s, unit/s.Groups, unit%s.Groups)
				clear(args.DiffSrc[offset : offset+regionSize])
			}
		})
	}

	e.workers.Parallel(s.NumThreads, func(thr workerspool.Thread) {
		start, end := balance.Contiguous(work, thr.Count, thr.Index)
		if start == end {
			return
		}
		var col []float32
		if s.WithIm2col() {
			col = pad.ThreadSlice(scratch.Columns, thr.Index, s.Im2colSize)
		}
		it := nditer.New(s.Groups, s.Batch).Init(start)
		for range end - start {
			g, n := it.At(0), it.At(1)
			srcOffset := layout.Src(s, n, g)
			diffSrc := args.DiffSrc[srcOffset : srcOffset+regionSize]
			diffDst := args.DiffDst[layout.Dst(s, n, g):]
			for od := range s.Out.Depth {
				c, ldc := diffSrc[od*m:], M
				if s.WithIm2col() {
					c, ldc = col, m
				}
				e.gemm.Sgemm(gemm.NoTrans, gemm.Trans, m, N, K, 1, diffDst[od*m:], M,
					args.Weights[g*wSize:], N, 0, c, ldc)
				if s.WithIm2col() {
					if s.Is3D() {
						im2col.Collapse3D(s, col, diffSrc, od)
					} else {
						im2col.Collapse(s, col, diffSrc)
					}
				}
			}
			it.Step()
		}
	})
}
