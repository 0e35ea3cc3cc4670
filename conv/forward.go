// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/gomlx/gemmconv/conv/balance"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/gemm"
	"github.com/gomlx/gemmconv/conv/im2col"
	"github.com/gomlx/gemmconv/conv/nditer"
	"github.com/gomlx/gemmconv/conv/postops"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/gomlx/gemmconv/internal/workerspool"
	"k8s.io/klog/v2"
)

// ForwardArgs are the buffers and options of Engine.Forward.
type ForwardArgs struct {
	// Src is the input, Weights are [Groups][OutChannels][InChannels][Kernel...], and Dst the output.
	Src, Weights, Dst []float32

	// Bias is indexed by group*OutChannels+oc. It is required if the shape was built WithBias, and
	// ignored otherwise.
	Bias []float32

	// PostOps are applied to the output after the bias.
	PostOps postops.Chain

	// Beta scales the previous contents of Dst, which are added to the convolution before the
	// post-ops. 0 overwrites Dst (it is never read).
	Beta float32

	// Layout of Src and Dst. If nil, the dense layout is used.
	Layout *convshape.Layout

	// Scratch holds the temporary buffers. If nil one is booked for the call.
	Scratch *scratch.Pad
}

// Forward computes the convolution of args.Src by args.Weights into args.Dst, fusing the bias and
// post-operations.
//
// Work units are (group, batch, output depth, height block, width block), split contiguously among
// the shape's threads.
func (e *Engine) Forward(s *convshape.Shape, args ForwardArgs) {
	checkKind("Forward", s, convshape.Forward)
	layout := resolveLayout(s, args.Layout)
	layout.AssertFits(s, len(args.Src), len(args.Dst))
	wSize := s.WeightsGroupSize()
	checkLen("Forward", "Weights", args.Weights, s.Groups*wSize)
	bias := args.Bias
	if s.WithBias {
		checkLen("Forward", "Bias", bias, s.Groups*s.OutChannels)
	} else {
		bias = nil
	}
	args.PostOps.Validate(s.Groups * s.OutChannels)
	pipeline := postops.Compile(args.PostOps)
	pad := resolveScratch(s, args.Scratch)

	outSize := s.OutSpatialSize()
	M := outSize * s.Out.Depth
	N := s.OutChannels
	K := s.InChannels * s.KernelSize()
	hb, wb := s.OutHeightBlock, s.OutWidthBlock
	work := s.Groups * s.Batch * s.Out.Depth * s.NumHeightBlocks() * s.NumWidthBlocks()
	if klog.V(1).Enabled() {
		klog.Infof("conv.Forward: %s, work=%d units, im2col=%v, postOps=%d, fastRelu=%v",
			s, work, s.WithIm2col(), pipeline.Len(), pipeline.IsFastRelu())
	}

	if s.WithIm2col() && s.Is3D() {
		e.zeroColumns(s, pad)
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
		it := nditer.New(s.Groups, s.Batch, s.Out.Depth, s.NumHeightBlocks(), s.NumWidthBlocks()).Init(start)
		for range end - start {
			g, n, od := it.At(0), it.At(1), it.At(2)
			oh, ow := it.At(3)*hb, it.At(4)*wb
			hStep, wStep := min(hb, s.Out.Height-oh), min(wb, s.Out.Width-ow)
			m := hStep * wStep
			src := args.Src[layout.Src(s, n, g):]
			blockOffset := od*outSize + oh*s.Out.Width + ow

			a, lda := src[blockOffset:], M
			if s.WithIm2col() {
				if s.Is3D() {
					im2col.Expand3D(s, src, col, od)
				} else {
					im2col.Expand(s, src, col, oh, hStep, ow, wStep)
				}
				a, lda = col, m
			}
			dst := args.Dst[layout.Dst(s, n, g)+blockOffset:]
			e.gemm.Sgemm(gemm.NoTrans, gemm.NoTrans, m, N, K, 1, a, lda, args.Weights[g*wSize:], K,
				args.Beta, dst, M)
			pipeline.Apply(dst, M, m, N, g*N, bias)
			it.Step()
		}
	})
}
