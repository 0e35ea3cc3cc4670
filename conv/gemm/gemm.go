// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm defines the single precision matrix multiplication used by the convolution engine,
// with column-major (Fortran) conventions:
//
//	C = alpha * op(A) * op(B) + beta * C
//
// where op(A) is m x k, op(B) is k x n and C is m x n, and element (i, j) of a matrix X with leading
// dimension ldx is X[i + j*ldx].
//
// If beta is 0, C is overwritten and never read, so it may hold garbage (including NaNs).
package gemm

import (
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"
)

// Transpose selects op(X): X itself or its transpose.
type Transpose bool

const (
	NoTrans Transpose = false
	Trans   Transpose = true
)

// String implements fmt.Stringer.
func (t Transpose) String() string {
	if t {
		return "T"
	}
	return "N"
}

// Sgemm is the matrix multiplication collaborator of the engine.
//
// Implementations must be safe for concurrent use on disjoint C matrices.
type Sgemm interface {
	Sgemm(transA, transB Transpose, m, n, k int, alpha float32, a []float32, lda int,
		b []float32, ldb int, beta float32, c []float32, ldc int)
}

// Gonum implements Sgemm with gonum's pure Go BLAS.
type Gonum struct {
	impl gonum.Implementation
}

var _ Sgemm = Gonum{}

func (t Transpose) blas() blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Sgemm implements the Sgemm interface.
//
// A column-major m x n matrix with leading dimension ld is the row-major n x m matrix with the same
// leading dimension. So the column-major C = op(A)*op(B) is computed as the row-major
// C^T = op(B)^T * op(A)^T, that is, with operands swapped and the same transposition flags.
func (g Gonum) Sgemm(transA, transB Transpose, m, n, k int, alpha float32, a []float32, lda int,
	b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 || alpha == 0 {
		scaleColumnMajor(m, n, beta, c, ldc)
		return
	}
	g.impl.Sgemm(transB.blas(), transA.blas(), n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
}

// Naive implements Sgemm with plain loops. It is used as a reference, and for tiny problems.
type Naive struct{}

var _ Sgemm = Naive{}

// Sgemm implements the Sgemm interface.
func (Naive) Sgemm(transA, transB Transpose, m, n, k int, alpha float32, a []float32, lda int,
	b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 || alpha == 0 {
		scaleColumnMajor(m, n, beta, c, ldc)
		return
	}
	checkArgs(transA, transB, m, n, k, len(a), lda, len(b), ldb, len(c), ldc)
	for j := range n {
		col := c[j*ldc : j*ldc+m]
		for i := range m {
			var sum float32
			for l := range k {
				var av, bv float32
				if transA {
					av = a[l+i*lda]
				} else {
					av = a[i+l*lda]
				}
				if transB {
					bv = b[j+l*ldb]
				} else {
					bv = b[l+j*ldb]
				}
				sum += av * bv
			}
			if beta == 0 {
				col[i] = alpha * sum
			} else {
				col[i] = alpha*sum + beta*col[i]
			}
		}
	}
}

// scaleColumnMajor sets C = beta*C, overwriting C when beta is 0.
func scaleColumnMajor(m, n int, beta float32, c []float32, ldc int) {
	for j := range n {
		col := c[j*ldc : j*ldc+m]
		if beta == 0 {
			clear(col)
			continue
		}
		if beta != 1 {
			for i := range col {
				col[i] *= beta
			}
		}
	}
}

// checkArgs panics if the dimensions, leading dimensions or buffer lengths are inconsistent.
func checkArgs(transA, transB Transpose, m, n, k, lenA, lda, lenB, ldb, lenC, ldc int) {
	if m < 0 || n < 0 || k < 0 {
		exceptions.Panicf("gemm: negative dimensions m=%d, n=%d, k=%d", m, n, k)
	}
	rowsA, colsA := m, k
	if transA {
		rowsA, colsA = k, m
	}
	rowsB, colsB := k, n
	if transB {
		rowsB, colsB = n, k
	}
	if lda < max(1, rowsA) || ldb < max(1, rowsB) || ldc < max(1, m) {
		exceptions.Panicf("gemm: invalid leading dimensions lda=%d, ldb=%d, ldc=%d for %s%s m=%d, n=%d, k=%d",
			lda, ldb, ldc, transA, transB, m, n, k)
	}
	if colsA > 0 && lenA < (colsA-1)*lda+rowsA {
		exceptions.Panicf("gemm: A has %d elements, need %d", lenA, (colsA-1)*lda+rowsA)
	}
	if colsB > 0 && lenB < (colsB-1)*ldb+rowsB {
		exceptions.Panicf("gemm: B has %d elements, need %d", lenB, (colsB-1)*ldb+rowsB)
	}
	if lenC < (n-1)*ldc+m {
		exceptions.Panicf("gemm: C has %d elements, need %d", lenC, (n-1)*ldc+m)
	}
}
