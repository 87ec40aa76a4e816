package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Matrix is a strided row-major view into a float64 slice.
type Matrix struct {
	Rows, Cols int
	Stride     int
	Data       []float64
}

// Dense views data as a contiguous rows×cols matrix.
func Dense(rows, cols int, data []float64) Matrix {
	return Matrix{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

func (m Matrix) general() blas64.General {
	stride := m.Stride
	if stride < 1 {
		stride = 1
	}
	return blas64.General{Rows: m.Rows, Cols: m.Cols, Stride: stride, Data: m.Data}
}

// Gemm computes c = alpha*op(a)*op(b) + beta*c.
func Gemm(transA, transB bool, alpha float64, a, b Matrix, beta float64, c Matrix) {
	if c.Rows == 0 || c.Cols == 0 {
		return
	}
	blas64.Gemm(trans(transA), trans(transB), alpha, a.general(), b.general(), beta, c.general())
}

func trans(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}
