// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convshape

import (
	"github.com/pkg/errors"
)

// Params is the user-facing description of a convolution.
//
// Zero values are sanitized by Build: a zero Depth (input or kernel) is taken as 1 (2D convolution),
// and zero strides or dilations are taken as 1.
type Params struct {
	Groups, Batch int

	// InChannels and OutChannels are the total number of channels, across all groups.
	InChannels, OutChannels int

	Input, Kernel Dims3

	Strides, Dilations Dims3

	PadBegin, PadEnd Dims3

	WithBias bool

	// OutHeightBlock and OutWidthBlock optionally block the output spatial axes of a 2D forward
	// convolution. 0 means no blocking (the full dimension).
	OutHeightBlock, OutWidthBlock int
}

// Build validates params and builds the Shape of a convolution of the given kind, executed by
// numThreads threads.
func Build(params Params, kind Kind, numThreads int) (*Shape, error) {
	p := sanitize(params)
	if kind < Forward || kind > BackwardWeights {
		return nil, errors.Errorf("convshape.Build: invalid kind %s", kind)
	}
	if numThreads < 1 {
		return nil, errors.Errorf("convshape.Build: numThreads must be >= 1, got %d", numThreads)
	}
	if p.Groups < 1 || p.Batch < 1 {
		return nil, errors.Errorf("convshape.Build: groups (%d) and batch (%d) must be >= 1", p.Groups, p.Batch)
	}
	if p.InChannels < 1 || p.OutChannels < 1 {
		return nil, errors.Errorf("convshape.Build: channels must be >= 1, got in=%d, out=%d",
			p.InChannels, p.OutChannels)
	}
	if p.InChannels%p.Groups != 0 || p.OutChannels%p.Groups != 0 {
		return nil, errors.Errorf("convshape.Build: channels (in=%d, out=%d) must be divisible by groups (%d)",
			p.InChannels, p.OutChannels, p.Groups)
	}
	if err := checkPositive("input", p.Input); err != nil {
		return nil, err
	}
	if err := checkPositive("kernel", p.Kernel); err != nil {
		return nil, err
	}
	if err := checkPositive("strides", p.Strides); err != nil {
		return nil, err
	}
	if err := checkPositive("dilations", p.Dilations); err != nil {
		return nil, err
	}
	if p.PadBegin.Depth < 0 || p.PadBegin.Height < 0 || p.PadBegin.Width < 0 ||
		p.PadEnd.Depth < 0 || p.PadEnd.Height < 0 || p.PadEnd.Width < 0 {
		return nil, errors.Errorf("convshape.Build: paddings must be >= 0, got begin=%s, end=%s", p.PadBegin, p.PadEnd)
	}
	if p.Input.Depth == 1 && (p.Kernel.Depth != 1 || p.PadBegin.Depth != 0 || p.PadEnd.Depth != 0) {
		return nil, errors.Errorf("convshape.Build: 2D convolution (input depth 1) requires kernel depth 1 "+
			"and no depth padding, got kernel=%s, padBegin=%s, padEnd=%s", p.Kernel, p.PadBegin, p.PadEnd)
	}

	s := &Shape{
		Kind:        kind,
		Groups:      p.Groups,
		Batch:       p.Batch,
		InChannels:  p.InChannels / p.Groups,
		OutChannels: p.OutChannels / p.Groups,
		In:          p.Input,
		Kernel:      p.Kernel,
		Strides:     p.Strides,
		Dilations:   p.Dilations,
		Padding:     p.PadBegin,
		NumThreads:  numThreads,
		WithBias:    p.WithBias,
	}
	s.Out = Dims3{
		Depth:  outputDim(p.Input.Depth, p.Kernel.Depth, p.Strides.Depth, p.Dilations.Depth, p.PadBegin.Depth, p.PadEnd.Depth),
		Height: outputDim(p.Input.Height, p.Kernel.Height, p.Strides.Height, p.Dilations.Height, p.PadBegin.Height, p.PadEnd.Height),
		Width:  outputDim(p.Input.Width, p.Kernel.Width, p.Strides.Width, p.Dilations.Width, p.PadBegin.Width, p.PadEnd.Width),
	}
	if s.Out.Depth <= 0 || s.Out.Height <= 0 || s.Out.Width <= 0 {
		return nil, errors.Errorf("convshape.Build: invalid output dimensions %s for input %s, kernel %s, "+
			"strides %s, dilations %s, padBegin %s, padEnd %s", s.Out, p.Input, p.Kernel, p.Strides, p.Dilations,
			p.PadBegin, p.PadEnd)
	}

	// Blocking.
	s.OutHeightBlock, s.OutWidthBlock = s.Out.Height, s.Out.Width
	if p.OutHeightBlock != 0 || p.OutWidthBlock != 0 {
		if kind != Forward {
			return nil, errors.Errorf("convshape.Build: spatial blocking is only supported for Forward, got %s", kind)
		}
		if s.Is3D() {
			return nil, errors.Errorf("convshape.Build: spatial blocking is not supported for 3D convolutions")
		}
		if p.OutHeightBlock < 0 || p.OutWidthBlock < 0 {
			return nil, errors.Errorf("convshape.Build: blocking factors must be >= 0, got %dx%d",
				p.OutHeightBlock, p.OutWidthBlock)
		}
		if p.OutHeightBlock > 0 {
			s.OutHeightBlock = min(p.OutHeightBlock, s.Out.Height)
		}
		if p.OutWidthBlock > 0 {
			s.OutWidthBlock = min(p.OutWidthBlock, s.Out.Width)
		}
		if s.OutWidthBlock != s.Out.Width && s.OutHeightBlock != 1 {
			return nil, errors.Errorf("convshape.Build: width blocking (%d < %d) requires a height block of 1, got %d",
				s.OutWidthBlock, s.Out.Width, s.OutHeightBlock)
		}
	}

	// Expansion is skipped only if the convolution is a plain matrix multiplication.
	isDirect := s.Kernel == (Dims3{1, 1, 1}) && s.Strides == (Dims3{1, 1, 1}) &&
		p.PadBegin == (Dims3{}) && p.PadEnd == (Dims3{})
	if !isDirect {
		s.Im2colSize = s.InChannels * s.KernelSize() * s.OutHeightBlock * s.OutWidthBlock
	}
	s.NeedWeightsReduction = kind == BackwardWeights && s.Batch != 1 && s.NumThreads != 1
	return s, nil
}

func sanitize(p Params) Params {
	if p.Input.Depth == 0 {
		p.Input.Depth = 1
	}
	if p.Kernel.Depth == 0 {
		p.Kernel.Depth = 1
	}
	for _, d := range []*Dims3{&p.Strides, &p.Dilations} {
		if d.Depth == 0 {
			d.Depth = 1
		}
		if d.Height == 0 {
			d.Height = 1
		}
		if d.Width == 0 {
			d.Width = 1
		}
	}
	return p
}

func checkPositive(name string, d Dims3) error {
	if d.Depth <= 0 || d.Height <= 0 || d.Width <= 0 {
		return errors.Errorf("convshape.Build: %s dimensions must be positive, got %s", name, d)
	}
	return nil
}

// outputDim returns the number of output positions along one axis.
func outputDim(in, kernel, stride, dilation, padBegin, padEnd int) int {
	effectiveKernel := (kernel-1)*dilation + 1
	span := in + padBegin + padEnd - effectiveKernel
	if span < 0 {
		return 0
	}
	return span/stride + 1
}
