// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package postops

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEltwise(t *testing.T) {
	testCases := []struct {
		op       Op
		in, want float32
	}{
		{EltwiseOp(Relu, 0, 0), -2, 0},
		{EltwiseOp(Relu, 0.1, 0), -2, -0.2},
		{EltwiseOp(Relu, 0.1, 0), 3, 3},
		{EltwiseOp(Tanh, 0, 0), 0.5, float32(math.Tanh(0.5))},
		{EltwiseOp(Elu, 2, 0), -1, float32(2 * (math.Exp(-1) - 1))},
		{EltwiseOp(Elu, 2, 0), 1.5, 1.5},
		{EltwiseOp(Square, 0, 0), -3, 9},
		{EltwiseOp(Abs, 0, 0), -3, 3},
		{EltwiseOp(Sqrt, 0, 0), 16, 4},
		{EltwiseOp(Sqrt, 0, 0), -4, 0},
		{EltwiseOp(Linear, 2, 1), 3, 7},
		{EltwiseOp(BoundedRelu, 6, 0), 10, 6},
		{EltwiseOp(BoundedRelu, 6, 0), -1, 0},
		{EltwiseOp(SoftRelu, 0, 0), 0, float32(math.Log(2))},
		{EltwiseOp(SoftRelu, 0, 0), 50, 50},
		{EltwiseOp(SoftRelu, 0, 0), 1000, 1000},
		{EltwiseOp(SoftRelu, 0, 0), math.MaxFloat32, math.MaxFloat32},
		{EltwiseOp(Logistic, 0, 0), 0, 0.5},
		{EltwiseOp(Clamp, -1, 1), 5, 1},
		{EltwiseOp(Clamp, -1, 1), -5, -1},
		{EltwiseOp(Gelu, 0, 0), 0, 0},
		{EltwiseOp(Gelu, 0, 0), 1, float32(0.5 * (1 + math.Erf(1/math.Sqrt2)))},
		{EltwiseOp(Silu, 0, 0), 2, float32(2 / (1 + math.Exp(-2)))},
	}
	for _, tc := range testCases {
		t.Run(tc.op.String(), func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.op.Apply(0, tc.in), 1e-6)
		})
	}
}

func TestAffine(t *testing.T) {
	op := AffineOp([]float32{1, 2, 3}, []float32{0, 10, 20})
	assert.Equal(t, float32(2*5+10), op.Apply(1, 5))
	op.Shift = nil
	assert.Equal(t, float32(15), op.Apply(2, 5))
	require.Error(t, exceptions.TryCatch[error](func() { Chain{op}.Validate(4) }))
	Chain{op, BiasOp(), EltwiseOp(Gelu, 0, 0)}.Validate(3)
}

// newBlock returns a block of oc channels of m values, with leading dimension ld.
// Values between channels (the padding between m and ld) are set to a sentinel.
func newBlock(oc, m, ld int) []float32 {
	block := make([]float32, (oc-1)*ld+m)
	for i := range block {
		if i%ld < m {
			block[i] = float32(i%ld) - float32(m)/2
		} else {
			block[i] = 1000
		}
	}
	return block
}

func TestPipelineFastRelu(t *testing.T) {
	const oc, m, ld = 3, 5, 8
	bias := []float32{-100, 0.5, -1, 2}
	for _, slope := range []float32{0, 0.25} {
		chain := Chain{EltwiseOp(Relu, slope, 0)}
		fast := Compile(chain)
		require.True(t, fast.IsFastRelu())

		// Generic evaluation of the same chain, forced by an extra no-op Linear.
		generic := Compile(Chain{EltwiseOp(Relu, slope, 0), EltwiseOp(Linear, 1, 0)})
		require.False(t, generic.IsFastRelu())

		got := newBlock(oc, m, ld)
		want := newBlock(oc, m, ld)
		fast.Apply(got, ld, m, oc, 1, bias)
		generic.Apply(want, ld, m, oc, 1, bias)
		assert.Equal(t, want, got)

		// Channel 0 of the block is global channel 1, bias 0.5; value -2.5+0.5 = -2.
		assert.Equal(t, -2*slope, got[0])
		// Zero stays zero: -0.5+0.5.
		assert.Equal(t, float32(0), got[2])
		// Padding between channels is untouched.
		assert.Equal(t, float32(1000), got[m])
	}
}

func TestPipelineBiasOnce(t *testing.T) {
	const oc, m = 2, 3
	bias := []float32{1, 10}
	values := func() []float32 { return []float32{1, 2, 3, 4, 5, 6} }

	// No chain: plain bias pass.
	block := values()
	Compile(nil).Apply(block, m, m, oc, 0, bias)
	assert.Equal(t, []float32{2, 3, 4, 14, 15, 16}, block)

	// No chain and no bias: untouched.
	block = values()
	Compile(nil).Apply(block, m, m, oc, 0, nil)
	assert.Equal(t, values(), block)

	// Bias before the first op: (v+b)^2.
	block = values()
	Compile(Chain{EltwiseOp(Square, 0, 0)}).Apply(block, m, m, oc, 0, bias)
	assert.Equal(t, []float32{4, 9, 16, 196, 225, 256}, block)

	// Explicit Bias position: v^2 + b, and the bias is added only once.
	block = values()
	Compile(Chain{EltwiseOp(Square, 0, 0), BiasOp(), BiasOp()}).Apply(block, m, m, oc, 0, bias)
	assert.Equal(t, []float32{2, 5, 10, 26, 35, 46}, block)

	// Affine uses the global channel index.
	block = values()
	affine := AffineOp([]float32{0, 1, 2}, []float32{0, 0, 100})
	Compile(Chain{affine}).Apply(block, m, m, oc, 1, nil)
	assert.Equal(t, []float32{1, 2, 3, 108, 110, 112}, block)

	// Missing bias for an explicit Bias op.
	err := exceptions.TryCatch[error](func() {
		Compile(Chain{BiasOp()}).Apply(values(), m, m, oc, 0, nil)
	})
	require.Error(t, err)
}
