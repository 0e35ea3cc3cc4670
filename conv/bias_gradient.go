// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/gomlx/gemmconv/conv/convshape"
)

// biasGradient sets diffBias[g*OutChannels+oc] to the sum of diffDst over the batch and the spatial
// axes of channel oc of group g. Channels are split among the pool's workers.
func (e *Engine) biasGradient(s *convshape.Shape, layout *convshape.Layout, diffDst, diffBias []float32) {
	spatial := s.Out.Size()
	e.workers.ParallelFor(s.Groups*s.OutChannels, func(start, end int) {
		for channel := start; channel < end; channel++ {
			g, oc := channel/s.OutChannels, channel%s.OutChannels
			var sum float32
			for n := range s.Batch {
				offset := layout.Dst(s, n, g) + oc*spatial
				for _, v := range diffDst[offset : offset+spatial] {
					sum += v
				}
			}
			diffBias[channel] = sum
		}
	})
}
