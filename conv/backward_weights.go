// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/gomlx/gemmconv/conv/balance"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/gemm"
	"github.com/gomlx/gemmconv/conv/im2col"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/gomlx/gemmconv/internal/workerspool"
	"k8s.io/klog/v2"
)

// BackwardWeightsArgs are the buffers and options of Engine.BackwardWeights.
type BackwardWeightsArgs struct {
	// Src is the input of the convolution and DiffDst the gradient of its output.
	Src, DiffDst []float32

	// DiffWeights receives the gradient of the weights.
	DiffWeights []float32

	// DiffBias receives the gradient of the bias, indexed by group*OutChannels+oc. It is required if
	// the shape was built WithBias, and ignored otherwise.
	DiffBias []float32

	// Layout of Src and DiffDst. If nil, the dense layout is used.
	Layout *convshape.Layout

	// Scratch holds the temporary buffers. If nil one is booked for the call.
	Scratch *scratch.Pad
}

// BackwardWeights computes the gradient of the convolution with respect to its weights (and bias, if
// the shape was built WithBias). args.DiffWeights and args.DiffBias are overwritten.
//
// Threads are arranged in a groups x batch grid (see balance.Grid). If the batch is split among
// threads, each thread accumulates into its own scratch buffer and, after a barrier, the threads of
// each group reduce their buffers into DiffWeights, each over a contiguous range of the weights.
func (e *Engine) BackwardWeights(s *convshape.Shape, args BackwardWeightsArgs) {
	checkKind("BackwardWeights", s, convshape.BackwardWeights)
	layout := resolveLayout(s, args.Layout)
	layout.AssertFits(s, len(args.Src), len(args.DiffDst))
	wSize := s.WeightsGroupSize()
	checkLen("BackwardWeights", "DiffWeights", args.DiffWeights, s.Groups*wSize)
	if s.WithBias {
		checkLen("BackwardWeights", "DiffBias", args.DiffBias, s.Groups*s.OutChannels)
	}
	pad := resolveScratch(s, args.Scratch)

	k := s.OutSpatialSize()
	K := k * s.Out.Depth
	M := s.InChannels * s.KernelSize()
	N := s.OutChannels
	batchForBalance := 1
	if s.NeedWeightsReduction {
		batchForBalance = s.Batch
	}
	if klog.V(1).Enabled() {
		_, groupThreads, _, batchThreads := balance.Grid(s.Groups, batchForBalance, s.NumThreads, 0)
		klog.Infof("conv.BackwardWeights: %s, grid=%dx%d threads, im2col=%v",
			s, groupThreads, batchThreads, s.WithIm2col())
	}

	if s.WithIm2col() {
		e.zeroColumns(s, pad)
	}

	e.workers.Parallel(s.NumThreads, func(thr workerspool.Thread) {
		groupThread, groupThreads, batchThread, batchThreads := balance.Grid(
			s.Groups, batchForBalance, thr.Count, thr.Index)
		needReduction := batchThreads > 1
		if groupThread < 0 {
			if needReduction {
				thr.Barrier()
			}
			return
		}
		gStart, gEnd := balance.Contiguous(s.Groups, groupThreads, groupThread)
		mbStart, mbEnd := balance.Contiguous(s.Batch, batchThreads, batchThread)
		var col []float32
		if s.WithIm2col() {
			col = pad.ThreadSlice(scratch.Columns, thr.Index, s.Im2colSize)
		}
		var partials, ownPartial []float32
		if needReduction {
			partials = pad.ThreadSlice(scratch.WeightsReduction, groupThread, batchThreads*wSize)
			ownPartial = partials[batchThread*wSize : (batchThread+1)*wSize]
		}

		for g := gStart; g < gEnd; g++ {
			diffWeights := args.DiffWeights[g*wSize : (g+1)*wSize]
			if needReduction {
				diffWeights = ownPartial
			}
			for n := mbStart; n < mbEnd; n++ {
				src := args.Src[layout.Src(s, n, g):]
				diffDst := args.DiffDst[layout.Dst(s, n, g):]
				for od := range s.Out.Depth {
					a, lda := src[od*k:], K
					if s.WithIm2col() {
						if s.Is3D() {
							im2col.Expand3D(s, src, col, od)
						} else {
							im2col.Expand(s, src, col, 0, s.Out.Height, 0, s.Out.Width)
						}
						a, lda = col, k
					}
					var beta float32 = 1
					if n == mbStart && od == 0 {
						beta = 0
					}
					e.gemm.Sgemm(gemm.Trans, gemm.NoTrans, M, N, k, 1, a, lda, diffDst[od*k:], K,
						beta, diffWeights, M)
				}
			}
		}

		if needReduction {
			thr.Barrier()
			reduceWeights(partials, args.DiffWeights[gStart*wSize:(gStart+1)*wSize], wSize,
				batchThreads, batchThread)
		}
	})

	if s.WithBias {
		e.biasGradient(s, layout, args.DiffDst, args.DiffBias)
	}
}

// reduceWeights sums the numPartials buffers of wSize elements in partials into diffWeights, over
// the contiguous range of the weights assigned to partialThread.
func reduceWeights(partials, diffWeights []float32, wSize, numPartials, partialThread int) {
	start, end := balance.Contiguous(wSize, numPartials, partialThread)
	if start == end {
		return
	}
	out := diffWeights[start:end]
	copy(out, partials[start:end])
	for i := 1; i < numPartials; i++ {
		partial := partials[i*wSize+start : i*wSize+end]
		for j, v := range partial {
			out[j] += v
		}
	}
}
