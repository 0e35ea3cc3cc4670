// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// shapeTable lists the facts of the convolution shape.
func shapeTable(s *convshape.Shape) *lgtable.Table {
	srcSize := s.Batch * s.Groups * s.InChannels * s.InSpatialSize()
	dstSize := s.Batch * s.Groups * s.OutChannels * s.Out.Size()
	table := newPlainTable().Headers("Shape", "Value")
	table.Row("groups x batch", fmt.Sprintf("%d x %d", s.Groups, s.Batch))
	table.Row("channels (per group)", fmt.Sprintf("%d -> %d", s.InChannels, s.OutChannels))
	table.Row("input", s.In.String())
	table.Row("kernel", s.Kernel.String())
	table.Row("output", s.Out.String())
	table.Row("strides", s.Strides.String())
	table.Row("dilations", s.Dilations.String())
	table.Row("padding (begin)", s.Padding.String())
	table.Row("src", humanize.Bytes(uint64(4*srcSize)))
	table.Row("dst", humanize.Bytes(uint64(4*dstSize)))
	table.Row("weights", humanize.Bytes(uint64(4*s.Groups*s.WeightsGroupSize())))
	table.Row("threads", strconv.Itoa(s.NumThreads))
	return table
}

// timingsTable lists the timings of each convolution kind.
func timingsTable(results []result) *lgtable.Table {
	table := newPlainTable().Headers("Kind", "Im2col", "Scratch", "Iterations", "Mean", "Best", "GFlop/s (mean)")
	for _, r := range results {
		var mean time.Duration
		if r.iters > 0 {
			mean = r.total / time.Duration(r.iters)
		}
		im2colUse := "no (direct)"
		if r.shape.WithIm2col() {
			im2colUse = humanize.Comma(int64(r.shape.Im2colSize)) + " / thread"
		}
		table.Row(r.shape.Kind.String(), im2colUse, humanize.Bytes(uint64(r.scratchBytes)),
			humanize.Comma(int64(r.iters)), mean.String(), r.best.String(), r.gflops(mean))
	}
	return table
}

// parseDims parses "HxW" or "DxHxW". An empty value sets all axes to defaultValue.
// For "HxW" the depth is set to defaultValue.
func parseDims(value string, defaultValue int) (convshape.Dims3, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return convshape.Dims3{Depth: defaultValue, Height: defaultValue, Width: defaultValue}, nil
	}
	parts := strings.Split(value, "x")
	if len(parts) != 2 && len(parts) != 3 {
		return convshape.Dims3{}, errors.Errorf("invalid dimensions %q, expected \"HxW\" or \"DxHxW\"", value)
	}
	values := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return convshape.Dims3{}, errors.Wrapf(err, "invalid dimensions %q", value)
		}
		values[i] = v
	}
	if len(values) == 2 {
		return convshape.Dims3{Depth: defaultValue, Height: values[0], Width: values[1]}, nil
	}
	return convshape.Dims3{Depth: values[0], Height: values[1], Width: values[2]}, nil
}
