// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package im2col converts between strided spatial tensor regions and the "column" matrices used to
// compute convolutions with a matrix multiplication.
//
// Column matrices are laid out with the contraction index (input channel, kernel taps) as the
// outer axis and the output position as the inner, contiguous, axis:
//
//	col[((ic*Kernel.Depth + kd)*Kernel.Height + kh)*Kernel.Width + kw][outputPosition]
//
// which matches the weights layout [OutChannels][InChannels][Kernel.Depth][Kernel.Height][Kernel.Width].
//
// The image arguments (im) point to the start of one (batch, group) region: InChannels planes of
// In.Depth x In.Height x In.Width elements.
package im2col

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gemmconv/conv/convshape"
)

// Expand copies the receptive fields of the output positions in rows [hs, hs+hb) and columns
// [ws, ws+wb) of a 2D convolution into col. Taps falling in the padding are written as zero.
//
// col must hold at least InChannels * KernelSize() * hb * wb elements.
// If wb doesn't cover the full output width, hb must be 1.
func Expand(s *convshape.Shape, im, col []float32, hs, hb, ws, wb int) {
	if wb != s.Out.Width && hb != 1 {
		exceptions.Panicf("im2col.Expand: partial width block (%d of %d) requires hb == 1, got hb=%d", wb, s.Out.Width, hb)
	}
	imStep := s.In.Height * s.In.Width
	blockSize := hb * wb
	colStep := s.KernelSize() * blockSize
	if len(col) < s.InChannels*colStep {
		exceptions.Panicf("im2col.Expand: column buffer has %d elements, need %d", len(col), s.InChannels*colStep)
	}
	for ic := range s.InChannels {
		imC := im[ic*imStep : (ic+1)*imStep]
		colC := col[ic*colStep : (ic+1)*colStep]
		for kh := range s.Kernel.Height {
			for kw := range s.Kernel.Width {
				colTap := colC[(kh*s.Kernel.Width+kw)*blockSize : (kh*s.Kernel.Width+kw+1)*blockSize]
				for oh := hs; oh < hs+hb; oh++ {
					ih := oh*s.Strides.Height - s.Padding.Height + kh*s.Dilations.Height
					colRow := colTap[(oh-hs)*wb : (oh-hs+1)*wb]
					if ih < 0 || ih >= s.In.Height {
						clear(colRow)
						continue
					}
					imRow := imC[ih*s.In.Width : (ih+1)*s.In.Width]
					for ow := ws; ow < ws+wb; ow++ {
						iw := ow*s.Strides.Width - s.Padding.Width + kw*s.Dilations.Width
						if iw < 0 || iw >= s.In.Width {
							colRow[ow-ws] = 0
						} else {
							colRow[ow-ws] = imRow[iw]
						}
					}
				}
			}
		}
	}
}

// Expand3D copies the receptive fields of all output positions of the output depth slice od into col.
//
// Kernel taps whose depth falls in the padding are written as zero. Taps whose height or width falls
// in the padding are not written at all: col must have been zeroed once before the first call, and
// only used for expansions of the same shape since.
func Expand3D(s *convshape.Shape, im, col []float32, od int) {
	outSize := s.OutSpatialSize()
	imStep := s.InSpatialSize()
	planeSize := s.In.Height * s.In.Width
	colStep := s.KernelSize() * outSize
	if len(col) < s.InChannels*colStep {
		exceptions.Panicf("im2col.Expand3D: column buffer has %d elements, need %d", len(col), s.InChannels*colStep)
	}
	for ic := range s.InChannels {
		imC := im[ic*imStep : (ic+1)*imStep]
		colC := col[ic*colStep : (ic+1)*colStep]
		for kd := range s.Kernel.Depth {
			id := od*s.Strides.Depth - s.Padding.Depth + kd*s.Dilations.Depth
			depthInside := id >= 0 && id < s.In.Depth
			var imPlane []float32
			if depthInside {
				imPlane = imC[id*planeSize : (id+1)*planeSize]
			}
			for kh := range s.Kernel.Height {
				for kw := range s.Kernel.Width {
					tap := (kd*s.Kernel.Height+kh)*s.Kernel.Width + kw
					colTap := colC[tap*outSize : (tap+1)*outSize]
					for oh := range s.Out.Height {
						ih := oh*s.Strides.Height - s.Padding.Height + kh*s.Dilations.Height
						if ih < 0 || ih >= s.In.Height {
							continue
						}
						for ow := range s.Out.Width {
							iw := ow*s.Strides.Width - s.Padding.Width + kw*s.Dilations.Width
							if iw < 0 || iw >= s.In.Width {
								continue
							}
							if depthInside {
								colTap[oh*s.Out.Width+ow] = imPlane[ih*s.In.Width+iw]
							} else {
								colTap[oh*s.Out.Width+ow] = 0
							}
						}
					}
				}
			}
		}
	}
}

// Collapse is the adjoint of Expand over the full output (hs=0, hb=Out.Height, ws=0, wb=Out.Width)
// of a 2D convolution: it resets im and then scatter-adds every column value back into the input
// position it was read from.
//
// Distinct output positions and kernel taps may map to the same input element, so values accumulate.
func Collapse(s *convshape.Shape, col, im []float32) {
	outSize := s.OutSpatialSize()
	imStep := s.In.Height * s.In.Width
	colStep := s.KernelSize() * outSize
	for ic := range s.InChannels {
		imC := im[ic*imStep : (ic+1)*imStep]
		colC := col[ic*colStep : (ic+1)*colStep]
		clear(imC)
		for kh := range s.Kernel.Height {
			for kw := range s.Kernel.Width {
				colTap := colC[(kh*s.Kernel.Width+kw)*outSize : (kh*s.Kernel.Width+kw+1)*outSize]
				for oh := range s.Out.Height {
					ih := oh*s.Strides.Height - s.Padding.Height + kh*s.Dilations.Height
					if ih < 0 || ih >= s.In.Height {
						continue
					}
					imRow := imC[ih*s.In.Width : (ih+1)*s.In.Width]
					colRow := colTap[oh*s.Out.Width : (oh+1)*s.Out.Width]
					for ow, v := range colRow {
						iw := ow*s.Strides.Width - s.Padding.Width + kw*s.Dilations.Width
						if iw < 0 || iw >= s.In.Width {
							continue
						}
						imRow[iw] += v
					}
				}
			}
		}
	}
}

// Collapse3D is the adjoint of Expand3D: it scatter-adds the column values of the output depth
// slice od into im.
//
// It doesn't reset im: the caller must zero it once before collapsing the first depth slice.
func Collapse3D(s *convshape.Shape, col, im []float32, od int) {
	outSize := s.OutSpatialSize()
	imStep := s.InSpatialSize()
	planeSize := s.In.Height * s.In.Width
	colStep := s.KernelSize() * outSize
	for ic := range s.InChannels {
		imC := im[ic*imStep : (ic+1)*imStep]
		colC := col[ic*colStep : (ic+1)*colStep]
		for kd := range s.Kernel.Depth {
			id := od*s.Strides.Depth - s.Padding.Depth + kd*s.Dilations.Depth
			if id < 0 || id >= s.In.Depth {
				continue
			}
			imPlane := imC[id*planeSize : (id+1)*planeSize]
			for kh := range s.Kernel.Height {
				for kw := range s.Kernel.Width {
					tap := (kd*s.Kernel.Height+kh)*s.Kernel.Width + kw
					colTap := colC[tap*outSize : (tap+1)*outSize]
					for oh := range s.Out.Height {
						ih := oh*s.Strides.Height - s.Padding.Height + kh*s.Dilations.Height
						if ih < 0 || ih >= s.In.Height {
							continue
						}
						for ow := range s.Out.Width {
							iw := ow*s.Strides.Width - s.Padding.Width + kw*s.Dilations.Width
							if iw < 0 || iw >= s.In.Width {
								continue
							}
							imPlane[ih*s.In.Width+iw] += colTap[oh*s.Out.Width+ow]
						}
					}
				}
			}
		}
	}
}
