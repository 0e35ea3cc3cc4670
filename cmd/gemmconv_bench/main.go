// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gemmconv_bench times the forward, backward-data and backward-weights convolutions of one shape.
//
// Example:
//
//	gemmconv_bench -batch=8 -ic=64 -oc=64 -in=56x56 -kernel=3x3 -pad=1x1 -iters=20 -config=threads=8
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gemmconv/conv"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/gomlx/gemmconv/conv/postops"
	"github.com/gomlx/gemmconv/conv/scratch"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagBatch    = flag.Int("batch", 1, "Batch size.")
	flagGroups   = flag.Int("groups", 1, "Number of channel groups.")
	flagIC       = flag.Int("ic", 16, "Total number of input channels.")
	flagOC       = flag.Int("oc", 16, "Total number of output channels.")
	flagInput    = flag.String("in", "32x32", "Input spatial dimensions, \"HxW\" or \"DxHxW\".")
	flagKernel   = flag.String("kernel", "3x3", "Kernel spatial dimensions, \"HxW\" or \"DxHxW\".")
	flagStride   = flag.String("stride", "", "Strides, \"HxW\" or \"DxHxW\". Default is 1 on all axes.")
	flagPad      = flag.String("pad", "", "Padding (same at begin and end), \"HxW\" or \"DxHxW\". Default is 0.")
	flagDilation = flag.String("dilation", "", "Kernel dilations (1 is dense), \"HxW\" or \"DxHxW\". Default is 1.")
	flagBias     = flag.Bool("bias", true, "Include a bias.")
	flagRelu     = flag.Bool("relu", false, "Fuse a relu onto the forward convolution.")
	flagIters    = flag.Int("iters", 10, "Number of timed iterations per convolution kind.")
	flagColor    = flag.Bool("color", true, "Use colors and styles in the output tables.")
	flagConfig   = flag.String("config", "", fmt.Sprintf("Engine configuration, see conv.New. "+
		"If empty, $%s or conv.DefaultConfig is used.", conv.ConfigEnvVar))
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if !*flagColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	params, err := paramsFromFlags()
	if err != nil {
		klog.Errorf("Invalid convolution flags: %+v", err)
		os.Exit(1)
	}
	var engine *conv.Engine
	if *flagConfig != "" {
		engine, err = conv.New(*flagConfig)
	} else {
		engine, err = conv.NewDefault()
	}
	if err != nil {
		klog.Errorf("Failed to create engine: %+v", err)
		os.Exit(1)
	}

	var results []result
	for _, kind := range []convshape.Kind{convshape.Forward, convshape.BackwardData, convshape.BackwardWeights} {
		shape, err := engine.Build(params, kind)
		if err != nil {
			klog.Errorf("Invalid convolution: %+v", err)
			os.Exit(1)
		}
		results = append(results, benchmark(engine, shape, *flagIters))
	}
	fmt.Println(titleStyle.Render(engine.String()))
	fmt.Println(shapeTable(results[0].shape))
	fmt.Println(timingsTable(results))
}

func paramsFromFlags() (params convshape.Params, err error) {
	params = convshape.Params{
		Groups:      *flagGroups,
		Batch:       *flagBatch,
		InChannels:  *flagIC,
		OutChannels: *flagOC,
		WithBias:    *flagBias,
	}
	if params.Input, err = parseDims(*flagInput, 0); err != nil {
		return
	}
	if params.Kernel, err = parseDims(*flagKernel, 0); err != nil {
		return
	}
	if params.Strides, err = parseDims(*flagStride, 1); err != nil {
		return
	}
	if params.PadBegin, err = parseDims(*flagPad, 0); err != nil {
		return
	}
	params.PadEnd = params.PadBegin
	params.Dilations, err = parseDims(*flagDilation, 1)
	return
}

// result of benchmarking one convolution kind.
type result struct {
	shape        *convshape.Shape
	scratchBytes int
	flops        float64
	total, best  time.Duration
	iters        int
}

// benchmark runs one warm-up iteration followed by iters timed iterations of the shape's convolution.
func benchmark(engine *conv.Engine, s *convshape.Shape, iters int) result {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	srcSize := s.Batch * s.Groups * s.InChannels * s.InSpatialSize()
	dstSize := s.Batch * s.Groups * s.OutChannels * s.Out.Size()
	numChannels := s.Groups * s.OutChannels
	src, dst := randomSlice(rng, srcSize), randomSlice(rng, dstSize)
	weights := randomSlice(rng, s.Groups*s.WeightsGroupSize())
	bias := randomSlice(rng, numChannels)
	var chain postops.Chain
	if *flagRelu {
		chain = postops.Chain{postops.EltwiseOp(postops.Relu, 0, 0)}
	}
	pad := scratch.Book(s)

	run := func() {
		switch s.Kind {
		case convshape.Forward:
			engine.Forward(s, conv.ForwardArgs{Src: src, Weights: weights, Bias: bias, Dst: dst,
				PostOps: chain, Scratch: pad})
		case convshape.BackwardData:
			engine.BackwardData(s, conv.BackwardDataArgs{DiffDst: dst, Weights: weights, DiffSrc: src,
				Scratch: pad})
		case convshape.BackwardWeights:
			engine.BackwardWeights(s, conv.BackwardWeightsArgs{Src: src, DiffDst: dst, DiffWeights: weights,
				DiffBias: bias, Scratch: pad})
		}
	}
	run()

	r := result{
		shape:        s,
		scratchBytes: pad.Bytes(),
		flops:        2 * float64(s.Batch*s.Groups) * float64(s.OutChannels*s.Out.Size()) * float64(s.InChannels*s.KernelSize()),
		iters:        iters,
	}
	bar := progressbar.NewOptions(iters,
		progressbar.OptionSetDescription(fmt.Sprintf("%-16s", s.Kind)),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("convs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	for range iters {
		start := time.Now()
		run()
		elapsed := time.Since(start)
		r.total += elapsed
		if r.best == 0 || elapsed < r.best {
			r.best = elapsed
		}
		must.M(bar.Add(1))
	}
	if klog.V(1).Enabled() {
		klog.Infof("%s: %d iterations in %s", s.Kind, iters, r.total)
	}
	return r
}

func randomSlice(rng *rand.Rand, n int) []float32 {
	x := make([]float32, n)
	for i := range x {
		x[i] = 2*rng.Float32() - 1
	}
	return x
}

// gflops returns the throughput of the given duration in GFlop/s.
func (r result) gflops(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.CommafWithDigits(r.flops/d.Seconds()/1e9, 2)
}
