// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convshape

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Run("2D padded strided", func(t *testing.T) {
		s, err := Build(Params{
			Groups: 2, Batch: 3, InChannels: 4, OutChannels: 6,
			Input:    Dims3{Height: 7, Width: 9},
			Kernel:   Dims3{Height: 3, Width: 3},
			Strides:  Dims3{Height: 2, Width: 1},
			PadBegin: Dims3{Height: 1, Width: 1},
			PadEnd:   Dims3{Height: 1, Width: 1},
			WithBias: true,
		}, Forward, 4)
		require.NoError(t, err)
		assert.Equal(t, 2, s.InChannels)
		assert.Equal(t, 3, s.OutChannels)
		assert.Equal(t, Dims3{1, 4, 9}, s.Out)
		assert.Equal(t, Dims3{1, 1, 1}, s.Dilations)
		assert.Equal(t, 4, s.OutHeightBlock)
		assert.Equal(t, 9, s.OutWidthBlock)
		assert.Equal(t, 2*9*4*9, s.Im2colSize)
		assert.Equal(t, 2*3*9, s.WeightsGroupSize())
		assert.False(t, s.NeedWeightsReduction, "reduction only applies to BackwardWeights")
		assert.True(t, s.WithBias)
		s.AssertValid()
	})

	t.Run("direct 1x1", func(t *testing.T) {
		s, err := Build(Params{
			Groups: 1, Batch: 2, InChannels: 3, OutChannels: 5,
			Input:  Dims3{Depth: 2, Height: 4, Width: 4},
			Kernel: Dims3{Depth: 1, Height: 1, Width: 1},
		}, BackwardWeights, 3)
		require.NoError(t, err)
		assert.Equal(t, 0, s.Im2colSize)
		assert.False(t, s.WithIm2col())
		assert.Equal(t, s.In, s.Out)
		assert.True(t, s.Is3D())
		assert.True(t, s.NeedWeightsReduction)
		s.AssertValid()
	})

	t.Run("dilated 3D", func(t *testing.T) {
		s, err := Build(Params{
			Groups: 1, Batch: 1, InChannels: 1, OutChannels: 1,
			Input:     Dims3{Depth: 5, Height: 6, Width: 6},
			Kernel:    Dims3{Depth: 2, Height: 2, Width: 2},
			Dilations: Dims3{Depth: 2, Height: 2, Width: 2},
		}, BackwardData, 1)
		require.NoError(t, err)
		assert.Equal(t, Dims3{3, 4, 4}, s.Out)
		assert.Equal(t, 8*16, s.Im2colSize)
	})

	t.Run("forward blocking", func(t *testing.T) {
		params := Params{
			Groups: 1, Batch: 1, InChannels: 1, OutChannels: 1,
			Input:          Dims3{Height: 8, Width: 8},
			Kernel:         Dims3{Height: 3, Width: 3},
			OutHeightBlock: 1, OutWidthBlock: 4,
		}
		s, err := Build(params, Forward, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, s.OutHeightBlock)
		assert.Equal(t, 4, s.OutWidthBlock)
		assert.Equal(t, 6, s.NumHeightBlocks())
		assert.Equal(t, 2, s.NumWidthBlocks())
		assert.Equal(t, 9*4, s.Im2colSize)
		s.AssertValid()

		params.OutHeightBlock = 2
		_, err = Build(params, Forward, 2)
		require.Error(t, err, "width blocking requires height block of 1")

		params.OutHeightBlock, params.OutWidthBlock = 4, 0
		_, err = Build(params, BackwardData, 2)
		require.Error(t, err, "blocking is forward only")
	})
}

func TestBuildErrors(t *testing.T) {
	valid := Params{
		Groups: 2, Batch: 1, InChannels: 4, OutChannels: 4,
		Input:  Dims3{Height: 5, Width: 5},
		Kernel: Dims3{Height: 3, Width: 3},
	}
	_, err := Build(valid, Forward, 1)
	require.NoError(t, err)

	for name, mutate := range map[string]func(p *Params){
		"groups":            func(p *Params) { p.Groups = 0 },
		"channels/groups":   func(p *Params) { p.InChannels = 3 },
		"kernel too large":  func(p *Params) { p.Kernel.Height = 7 },
		"negative padding":  func(p *Params) { p.PadBegin.Width = -1 },
		"2D depth kernel":   func(p *Params) { p.Kernel.Depth = 2 },
		"3D blocking":       func(p *Params) { p.Input.Depth = 4; p.OutHeightBlock = 1 },
		"negative blocking": func(p *Params) { p.OutWidthBlock = -2 },
	} {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			_, err := Build(p, Forward, 1)
			require.Error(t, err)
		})
	}
	_, err = Build(valid, Forward, 0)
	require.Error(t, err)
}

func TestAssertValid(t *testing.T) {
	s, err := Build(Params{
		Groups: 1, Batch: 1, InChannels: 1, OutChannels: 1,
		Input:  Dims3{Height: 6, Width: 6},
		Kernel: Dims3{Height: 3, Width: 3},
	}, Forward, 1)
	require.NoError(t, err)

	broken := *s
	broken.OutHeightBlock, broken.OutWidthBlock = 2, 2
	require.Error(t, exceptions.TryCatch[error](broken.AssertValid))

	broken = *s
	broken.In.Depth = 3
	broken.OutHeightBlock = 1
	require.Error(t, exceptions.TryCatch[error](broken.AssertValid))

	broken = *s
	broken.NumThreads = 0
	require.Error(t, exceptions.TryCatch[error](broken.AssertValid))
}

func TestLayout(t *testing.T) {
	s, err := Build(Params{
		Groups: 2, Batch: 2, InChannels: 2, OutChannels: 4,
		Input:  Dims3{Height: 4, Width: 4},
		Kernel: Dims3{Height: 3, Width: 3},
	}, Forward, 1)
	require.NoError(t, err)
	l := DenseLayout(s)
	assert.Equal(t, 16, l.SrcGroupStride)
	assert.Equal(t, 2*4, l.DstGroupStride)
	assert.Equal(t, 3*16, l.Src(s, 1, 1))
	assert.Equal(t, 2*8, l.Dst(s, 1, 0))
	l.AssertFits(s, 4*16, 4*8)
	require.Error(t, exceptions.TryCatch[error](func() { l.AssertFits(s, 4*16-1, 4*8) }))

	padded := Layout{SrcOffset: 3, SrcGroupStride: 20, DstGroupStride: 8}
	padded.AssertFits(s, 3+3*20+16, 4*8)
	assert.Equal(t, 3+2*20, padded.Src(s, 1, 0))
	require.Error(t, exceptions.TryCatch[error](func() {
		bad := Layout{SrcGroupStride: 15, DstGroupStride: 8}
		bad.AssertFits(s, 1000, 1000)
	}))
}
