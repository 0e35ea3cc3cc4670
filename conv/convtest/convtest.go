// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convtest provides direct (loop-based) convolutions, accumulated in float64, used to verify
// the GEMM-based engine, plus test helpers.
//
// All tensors use the dense layout (convshape.DenseLayout).
package convtest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/stretchr/testify/require"
)

// Random returns n values uniformly distributed in [-1, 1).
func Random(rng *rand.Rand, n int) []float32 {
	x := make([]float32, n)
	for i := range x {
		x[i] = 2*rng.Float32() - 1
	}
	return x
}

// Sizes returns the number of elements of src, weights, bias and dst of the shape, in the dense layout.
func Sizes(s *convshape.Shape) (src, weights, bias, dst int) {
	src = s.Batch * s.Groups * s.InChannels * s.InSpatialSize()
	weights = s.Groups * s.WeightsGroupSize()
	bias = s.Groups * s.OutChannels
	dst = s.Batch * s.Groups * s.OutChannels * s.Out.Size()
	return
}

// tap calls fn for every valid (input, output, weight) index triple of the convolution.
func tap(s *convshape.Shape, fn func(srcIdx, dstIdx, wIdx int)) {
	in, out, k := s.In, s.Out, s.Kernel
	for n := range s.Batch {
		for g := range s.Groups {
			for oc := range s.OutChannels {
				dstBase := ((n*s.Groups+g)*s.OutChannels + oc) * out.Size()
				for ic := range s.InChannels {
					srcBase := ((n*s.Groups+g)*s.InChannels + ic) * in.Size()
					wBase := ((g*s.OutChannels+oc)*s.InChannels + ic) * k.Size()
					for od := range out.Depth {
						for oh := range out.Height {
							for ow := range out.Width {
								dstIdx := dstBase + (od*out.Height+oh)*out.Width + ow
								for kd := range k.Depth {
									id := od*s.Strides.Depth - s.Padding.Depth + kd*s.Dilations.Depth
									if id < 0 || id >= in.Depth {
										continue
									}
									for kh := range k.Height {
										ih := oh*s.Strides.Height - s.Padding.Height + kh*s.Dilations.Height
										if ih < 0 || ih >= in.Height {
											continue
										}
										for kw := range k.Width {
											iw := ow*s.Strides.Width - s.Padding.Width + kw*s.Dilations.Width
											if iw < 0 || iw >= in.Width {
												continue
											}
											fn(srcBase+(id*in.Height+ih)*in.Width+iw, dstIdx,
												wBase+(kd*k.Height+kh)*k.Width+kw)
										}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}

func toFloat32(x []float64) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		y[i] = float32(v)
	}
	return y
}

// Forward returns the convolution of src by weights, plus bias (if not nil).
func Forward(s *convshape.Shape, src, weights, bias []float32) []float32 {
	_, _, _, dstSize := Sizes(s)
	dst := make([]float64, dstSize)
	tap(s, func(srcIdx, dstIdx, wIdx int) {
		dst[dstIdx] += float64(src[srcIdx]) * float64(weights[wIdx])
	})
	if bias != nil {
		spatial := s.Out.Size()
		for i := range dst {
			channel := (i / spatial) % (s.Groups * s.OutChannels)
			dst[i] += float64(bias[channel])
		}
	}
	return toFloat32(dst)
}

// BackwardData returns the gradient of the convolution with respect to its input.
func BackwardData(s *convshape.Shape, diffDst, weights []float32) []float32 {
	srcSize, _, _, _ := Sizes(s)
	diffSrc := make([]float64, srcSize)
	tap(s, func(srcIdx, dstIdx, wIdx int) {
		diffSrc[srcIdx] += float64(diffDst[dstIdx]) * float64(weights[wIdx])
	})
	return toFloat32(diffSrc)
}

// BackwardWeights returns the gradient of the convolution with respect to its weights.
func BackwardWeights(s *convshape.Shape, src, diffDst []float32) []float32 {
	_, wSize, _, _ := Sizes(s)
	diffWeights := make([]float64, wSize)
	tap(s, func(srcIdx, dstIdx, wIdx int) {
		diffWeights[wIdx] += float64(src[srcIdx]) * float64(diffDst[dstIdx])
	})
	return toFloat32(diffWeights)
}

// BiasGradient returns the gradient of the convolution with respect to its bias.
func BiasGradient(s *convshape.Shape, diffDst []float32) []float32 {
	_, _, biasSize, _ := Sizes(s)
	diffBias := make([]float64, biasSize)
	spatial := s.Out.Size()
	for i, v := range diffDst {
		diffBias[(i/spatial)%biasSize] += float64(v)
	}
	return toFloat32(diffBias)
}

// RequireClose fails the test at the first element where got differs from want by more than
// tolerance, relative to max(1, |want|).
func RequireClose(t testing.TB, want, got []float32, tolerance float64, msgAndArgs ...any) {
	t.Helper()
	require.Len(t, got, len(want), msgAndArgs...)
	for i := range want {
		w, g := float64(want[i]), float64(got[i])
		if math.Abs(w-g) > tolerance*max(1, math.Abs(w)) || math.IsNaN(g) {
			require.Fail(t, fmt.Sprintf("element #%d differs: want %g, got %g (tolerance %g)", i, w, g, tolerance),
				msgAndArgs...)
		}
	}
}
