// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package postops implements the element-wise operations fused onto the output of a forward
// convolution: bias addition, activations and channel-wise affine transformations.
package postops

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
)

// Kind of a post-operation.
type Kind int

const (
	// Bias adds the per-channel bias at this position of the chain.
	Bias Kind = iota

	// Eltwise applies an activation (see Alg) to every element.
	Eltwise

	// Affine applies v*Scale[c] + Shift[c], for channel c.
	Affine
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Bias:
		return "Bias"
	case Eltwise:
		return "Eltwise"
	case Affine:
		return "Affine"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Alg is an element-wise algorithm. Alpha and Beta of the Op parametrize some of them.
type Alg int

const (
	// Relu is a leaky relu: x if x > 0, Alpha*x otherwise. Alpha == 0 is the plain relu.
	Relu Alg = iota
	Tanh
	// Elu is x if x > 0, Alpha*(exp(x)-1) otherwise.
	Elu
	Square
	Abs
	Sqrt
	// Linear is Alpha*x + Beta.
	Linear
	// BoundedRelu is min(Alpha, max(0, x)).
	BoundedRelu
	// SoftRelu is log(1 + exp(x)), or x above log(math.MaxFloat32).
	SoftRelu
	Logistic
	// Clamp is min(Beta, max(Alpha, x)).
	Clamp
	// Gelu is x * 0.5 * (1 + erf(x / sqrt(2))).
	Gelu
	Silu
)

// softReluThreshold is log(math.MaxFloat32): above it SoftRelu(x) == x in float32.
const softReluThreshold = 88.72283

var algNames = [...]string{"Relu", "Tanh", "Elu", "Square", "Abs", "Sqrt", "Linear", "BoundedRelu",
	"SoftRelu", "Logistic", "Clamp", "Gelu", "Silu"}

// String implements fmt.Stringer.
func (a Alg) String() string {
	if a < 0 || int(a) >= len(algNames) {
		return fmt.Sprintf("Alg(%d)", int(a))
	}
	return algNames[a]
}

// Op is one post-operation. Which fields are used depends on Kind.
type Op struct {
	Kind Kind

	// Alg, Alpha and Beta are used by Eltwise ops.
	Alg         Alg
	Alpha, Beta float32

	// Scale and Shift are used by Affine ops, indexed by the global channel (group*OutChannels + oc).
	// A nil Shift means no shift.
	Scale, Shift []float32
}

// BiasOp returns an Op that adds the bias at its position in the chain.
func BiasOp() Op { return Op{Kind: Bias} }

// EltwiseOp returns an element-wise Op.
func EltwiseOp(alg Alg, alpha, beta float32) Op { return Op{Kind: Eltwise, Alg: alg, Alpha: alpha, Beta: beta} }

// AffineOp returns a channel-wise affine Op.
func AffineOp(scale, shift []float32) Op { return Op{Kind: Affine, Scale: scale, Shift: shift} }

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op.Kind {
	case Eltwise:
		return fmt.Sprintf("Eltwise(%s, alpha=%g, beta=%g)", op.Alg, op.Alpha, op.Beta)
	default:
		return op.Kind.String()
	}
}

// Apply evaluates the op on value v of the given global channel.
//
// Bias ops are not evaluated by Apply, since the bias is owned by the Pipeline.
func (op *Op) Apply(channel int, v float32) float32 {
	switch op.Kind {
	case Eltwise:
		return op.eltwise(v)
	case Affine:
		v *= op.Scale[channel]
		if op.Shift != nil {
			v += op.Shift[channel]
		}
		return v
	case Bias:
		return v
	default:
		exceptions.Panicf("postops: unknown op kind %s", op.Kind)
		return v
	}
}

func (op *Op) eltwise(v float32) float32 {
	switch op.Alg {
	case Relu:
		if v < 0 {
			return v * op.Alpha
		}
		return v
	case Tanh:
		return float32(math.Tanh(float64(v)))
	case Elu:
		if v > 0 {
			return v
		}
		return op.Alpha * float32(math.Expm1(float64(v)))
	case Square:
		return v * v
	case Abs:
		if v < 0 {
			return -v
		}
		return v
	case Sqrt:
		if v <= 0 {
			return 0
		}
		return float32(math.Sqrt(float64(v)))
	case Linear:
		return op.Alpha*v + op.Beta
	case BoundedRelu:
		return min(op.Alpha, max(0, v))
	case SoftRelu:
		if v > softReluThreshold {
			return v
		}
		return float32(math.Log1p(math.Exp(float64(v))))
	case Logistic:
		return float32(1 / (1 + math.Exp(-float64(v))))
	case Clamp:
		return min(op.Beta, max(op.Alpha, v))
	case Gelu:
		return float32(float64(v) * 0.5 * (1 + math.Erf(float64(v)/math.Sqrt2)))
	case Silu:
		return float32(float64(v) / (1 + math.Exp(-float64(v))))
	default:
		exceptions.Panicf("postops: unknown eltwise algorithm %s", op.Alg)
		return v
	}
}

// Chain is an ordered list of post-operations.
type Chain []Op

// Validate panics if an op of the chain is malformed for numChannels (Groups*OutChannels) channels.
func (c Chain) Validate(numChannels int) {
	for i := range c {
		op := &c[i]
		switch op.Kind {
		case Bias:
		case Eltwise:
			if op.Alg < 0 || int(op.Alg) >= len(algNames) {
				exceptions.Panicf("postops: op #%d has unknown eltwise algorithm %s", i, op.Alg)
			}
		case Affine:
			if len(op.Scale) < numChannels || (op.Shift != nil && len(op.Shift) < numChannels) {
				exceptions.Panicf("postops: op #%d (Affine) needs %d channels, got scale=%d, shift=%d",
					i, numChannels, len(op.Scale), len(op.Shift))
			}
		default:
			exceptions.Panicf("postops: op #%d has unknown kind %s", i, op.Kind)
		}
	}
}
