// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/gemmconv/conv/convshape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDims(t *testing.T) {
	d, err := parseDims("5x7", 1)
	require.NoError(t, err)
	assert.Equal(t, convshape.Dims3{Depth: 1, Height: 5, Width: 7}, d)

	d, err = parseDims(" 2x3x4 ", 0)
	require.NoError(t, err)
	assert.Equal(t, convshape.Dims3{Depth: 2, Height: 3, Width: 4}, d)

	d, err = parseDims("", 1)
	require.NoError(t, err)
	assert.Equal(t, convshape.Dims3{Depth: 1, Height: 1, Width: 1}, d)

	for _, value := range []string{"3", "1x2x3x4", "ax3"} {
		_, err = parseDims(value, 0)
		require.Errorf(t, err, "value %q", value)
	}
}
