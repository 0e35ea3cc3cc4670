// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convshape

import "github.com/gomlx/exceptions"

// Layout locates the (batch, group) regions of the activation tensors in their flat buffers.
//
// The src-side tensor (src or diff_src) region of batch n and group g starts at
// SrcOffset + (n*Groups+g)*SrcGroupStride, and within a region channels and spatial positions are
// dense. Similarly for the dst-side tensor (dst or diff_dst).
//
// Group strides larger than the dense region size describe padded (blocked) tensors.
type Layout struct {
	SrcOffset, SrcGroupStride int
	DstOffset, DstGroupStride int
}

// DenseLayout returns the layout of densely packed tensors.
func DenseLayout(s *Shape) Layout {
	return Layout{
		SrcGroupStride: s.InChannels * s.InSpatialSize(),
		DstGroupStride: s.OutChannels * s.Out.Size(),
	}
}

// Src returns the offset of the src-side region of batch n and group g.
func (l *Layout) Src(s *Shape, n, g int) int {
	return l.SrcOffset + (n*s.Groups+g)*l.SrcGroupStride
}

// Dst returns the offset of the dst-side region of batch n and group g.
func (l *Layout) Dst(s *Shape, n, g int) int {
	return l.DstOffset + (n*s.Groups+g)*l.DstGroupStride
}

// AssertFits panics if the layout doesn't describe disjoint regions, or if the buffers of the given
// lengths are too small to hold all regions.
func (l *Layout) AssertFits(s *Shape, srcLen, dstLen int) {
	srcRegion := s.InChannels * s.InSpatialSize()
	dstRegion := s.OutChannels * s.Out.Size()
	if l.SrcOffset < 0 || l.DstOffset < 0 || l.SrcGroupStride < srcRegion || l.DstGroupStride < dstRegion {
		exceptions.Panicf("convshape: invalid layout %+v for regions of size src=%d, dst=%d", *l, srcRegion, dstRegion)
	}
	lastRegion := s.Batch*s.Groups - 1
	if need := l.SrcOffset + lastRegion*l.SrcGroupStride + srcRegion; srcLen < need {
		exceptions.Panicf("convshape: src-side buffer too small: got %d elements, need %d for %s", srcLen, need, s)
	}
	if need := l.DstOffset + lastRegion*l.DstGroupStride + dstRegion; dstLen < need {
		exceptions.Panicf("convshape: dst-side buffer too small: got %d elements, need %d for %s", dstLen, need, s)
	}
}
