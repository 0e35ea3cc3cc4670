// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package conv implements convolutions (forward, backward-data and backward-weights) by reducing them
// to single precision matrix multiplications (GEMM).
//
// Patches of the input are expanded into "column" matrices (see package im2col), multiplied by the
// weights, and the bias and post-operations (see package postops) are fused onto the output. Work is
// statically split among a fixed team of threads (see package balance), so results are
// deterministic for a given shape, including its number of threads.
//
// Shapes are described by convshape.Shape, built with convshape.Build (or Engine.Build). The engine
// doesn't validate user input: contract violations (e.g. buffers too small) panic with
// exceptions.Panicf.
//
// Example:
//
//	engine := must.M1(conv.New("threads=8"))
//	shape := must.M1(engine.Build(params, convshape.Forward))
//	engine.Forward(shape, conv.ForwardArgs{Src: src, Weights: weights, Dst: dst})
package conv

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/gemm"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/gomlx/gemmconv/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConfigEnvVar is the environment variable with the default engine configuration used by NewDefault.
const ConfigEnvVar = "GEMMCONV_CONFIG"

// DefaultConfig is used by NewDefault if ConfigEnvVar is not set.
//
// See New for the format of the configuration string.
var DefaultConfig string

// Engine executes convolutions. It is safe for concurrent use, as long as concurrent executions use
// different scratch pads and outputs.
type Engine struct {
	numThreads int
	gemmName   string
	gemm       gemm.Sgemm
	workers    *workerspool.Pool
}

// New creates an Engine configured by config, a comma-separated list of "key=value" options:
//
//   - "threads=<n>": number of threads of the team executing each convolution. Default is runtime.NumCPU().
//   - "parallelism=<n>": soft limit of goroutines used for auxiliary parallel loops (zero-fills, bias
//     gradient). 0 disables them, -1 means unlimited. Default is runtime.NumCPU().
//   - "gemm=gonum|naive": matrix multiplication implementation. Default is "gonum".
//
// An empty config uses the defaults.
func New(config string) (*Engine, error) {
	e := &Engine{
		numThreads: runtime.NumCPU(),
		gemmName:   "gonum",
		gemm:       gemm.Gonum{},
		workers:    workerspool.New(),
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("conv.New: invalid configuration option %q, expected \"key=value\"", part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "threads":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "conv.New: parsing value of %q", part)
			}
			if n < 1 {
				return nil, errors.Errorf("conv.New: threads must be >= 1, got %d", n)
			}
			e.numThreads = n
		case "parallelism":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "conv.New: parsing value of %q", part)
			}
			if n < -1 {
				return nil, errors.Errorf("conv.New: parallelism must be >= -1, got %d", n)
			}
			e.workers.SetMaxParallelism(n)
		case "gemm":
			switch value {
			case "gonum":
				e.gemm = gemm.Gonum{}
			case "naive":
				e.gemm = gemm.Naive{}
			default:
				return nil, errors.Errorf("conv.New: unknown gemm implementation %q, valid values are \"gonum\" and \"naive\"", value)
			}
			e.gemmName = value
		default:
			return nil, errors.Errorf("conv.New: unknown configuration option %q", key)
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("conv.New(%q): %s", config, e)
	}
	return e, nil
}

// NewDefault creates an Engine configured by the environment variable ConfigEnvVar if set, or
// DefaultConfig otherwise.
func NewDefault() (*Engine, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		config = DefaultConfig
	}
	e, err := New(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration from $%s or conv.DefaultConfig", ConfigEnvVar)
	}
	return e, nil
}

// Threads returns the default number of threads of the shapes built by the engine.
func (e *Engine) Threads() int { return e.numThreads }

// String implements fmt.Stringer.
func (e *Engine) String() string {
	return fmt.Sprintf("conv.Engine(threads=%d, parallelism=%d, gemm=%s)",
		e.numThreads, e.workers.MaxParallelism(), e.gemmName)
}

// Build is a shortcut to convshape.Build with the engine's number of threads.
func (e *Engine) Build(params convshape.Params, kind convshape.Kind) (*convshape.Shape, error) {
	return convshape.Build(params, kind, e.numThreads)
}

// resolveLayout returns the given layout, or the dense one if nil.
func resolveLayout(s *convshape.Shape, layout *convshape.Layout) *convshape.Layout {
	if layout != nil {
		return layout
	}
	dense := convshape.DenseLayout(s)
	return &dense
}

// resolveScratch returns the given scratch pad, or books a new one if nil.
func resolveScratch(s *convshape.Shape, pad *scratch.Pad) *scratch.Pad {
	if pad == nil {
		return scratch.Book(s)
	}
	if !pad.Fits(s) {
		exceptions.Panicf("conv: scratch pad of %d bytes doesn't fit %s", pad.Bytes(), s)
	}
	return pad
}

// zeroColumns clears the column buffers of all threads, in parallel.
func (e *Engine) zeroColumns(s *convshape.Shape, pad *scratch.Pad) {
	cols := pad.Get(scratch.Columns)[:s.Im2colSize*s.NumThreads]
	e.workers.ParallelFor(len(cols), func(start, end int) {
		clear(cols[start:end])
	})
}

// checkLen panics if a buffer has fewer than need elements.
func checkLen(op, name string, buf []float32, need int) {
	if len(buf) < need {
		exceptions.Panicf("conv.%s: %s has %d elements, need at least %d", op, name, len(buf), need)
	}
}

// checkKind panics if the shape wasn't built for the operation.
func checkKind(op string, s *convshape.Shape, kind convshape.Kind) {
	if s.Kind != kind {
		exceptions.Panicf("conv.%s: shape was built for %s, not %s", op, s.Kind, kind)
	}
	s.AssertValid()
}
