// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package postops

import "github.com/gomlx/exceptions"

// Pipeline is a compiled Chain, applied to blocks of the convolution output.
//
// A single leaky Relu chain is fused with the bias addition in one pass. Any other chain is evaluated
// op by op for each element, with the bias added before the first op (or at the position of an
// explicit Bias op). In all cases the bias is added exactly once.
type Pipeline struct {
	chain Chain

	fastRelu      bool
	negativeSlope float32

	// biasAt is the index of the op before which the bias is added.
	biasAt int
	// hasBiasOp is set if the chain holds an explicit Bias op.
	hasBiasOp bool
}

// Compile prepares the chain to be applied. The chain is not copied, and must not be changed afterwards.
func Compile(chain Chain) *Pipeline {
	p := &Pipeline{chain: chain}
	if len(chain) == 1 && chain[0].Kind == Eltwise && chain[0].Alg == Relu {
		p.fastRelu = true
		p.negativeSlope = chain[0].Alpha
	}
	for k := range chain {
		if chain[k].Kind == Bias {
			p.biasAt, p.hasBiasOp = k, true
			break
		}
	}
	return p
}

// IsFastRelu returns whether the pipeline uses the fused bias+relu path.
func (p *Pipeline) IsFastRelu() bool { return p.fastRelu }

// Len returns the number of ops in the chain.
func (p *Pipeline) Len() int { return len(p.chain) }

// Apply runs the pipeline over oc channels of an output block.
//
// The values of channel j are block[j*ld : j*ld+m], and its global channel index
// (group*OutChannels + oc) is channelBase + j. bias is indexed by the global channel, and may be nil.
func (p *Pipeline) Apply(block []float32, ld, m, oc, channelBase int, bias []float32) {
	if len(p.chain) == 0 && bias == nil {
		return
	}
	if p.hasBiasOp && bias == nil {
		exceptions.Panicf("postops: chain has a Bias op but no bias was given")
	}
	if oc > 0 && len(block) < (oc-1)*ld+m {
		exceptions.Panicf("postops: block has %d elements, need %d (oc=%d, ld=%d, m=%d)",
			len(block), (oc-1)*ld+m, oc, ld, m)
	}
	for j := range oc {
		channel := channelBase + j
		row := block[j*ld : j*ld+m]
		var b float32
		if bias != nil {
			b = bias[channel]
		}
		switch {
		case p.fastRelu:
			slope := p.negativeSlope
			for i, v := range row {
				v += b
				if v < 0 {
					v *= slope
				}
				row[i] = v
			}
		case len(p.chain) == 0:
			for i := range row {
				row[i] += b
			}
		default:
			p.applyChain(row, channel, b, bias != nil)
		}
	}
}

// applyChain evaluates the generic chain on the values of one channel.
func (p *Pipeline) applyChain(row []float32, channel int, b float32, withBias bool) {
	for i, v := range row {
		for k := range p.chain {
			if k == p.biasAt && withBias {
				v += b
			}
			if op := &p.chain[k]; op.Kind != Bias {
				v = op.Apply(channel, v)
			}
		}
		row[i] = v
	}
}
