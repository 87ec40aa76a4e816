package tensor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromData_ShapeMismatch(t *testing.T) {
	_, err := FromData(make([]float64, 5), 2, 3)
	require.True(t, errors.Is(err, ErrShape))
}

func TestExpect(t *testing.T) {
	x := New(2, 3, 4)
	require.NoError(t, x.Expect(2, -1, 4))
	require.Error(t, x.Expect(2, 3))
	require.Error(t, x.Expect(2, 3, 5))
}

func TestSoftmax_Stable(t *testing.T) {
	p := Softmax([]float64{1000, 1000, -1000})
	require.InDelta(t, 0.5, p[0], 1e-12)
	require.InDelta(t, 0.5, p[1], 1e-12)
	require.InDelta(t, 0, p[2], 1e-12)

	var sum float64
	for _, v := range Softmax([]float64{0.3, -2, 4}) {
		require.False(t, math.IsNaN(v))
		sum += v
	}
	require.InDelta(t, 1, sum, 1e-12)
}

func TestArgmax(t *testing.T) {
	require.Equal(t, 2, Argmax([]float64{0, 1, 3, 3}))
	require.Equal(t, 0, Argmax([]float64{7}))
}

func TestGemm(t *testing.T) {
	a := Dense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := Dense(3, 2, []float64{7, 8, 9, 10, 11, 12})
	c := Dense(2, 2, make([]float64, 4))
	Gemm(false, false, 1, a, b, 0, c)
	require.Equal(t, []float64{58, 64, 139, 154}, c.Data)

	// a * a^T accumulated onto c
	Gemm(false, true, 1, a, a, 1, c)
	require.Equal(t, []float64{58 + 14, 64 + 32, 139 + 32, 154 + 77}, c.Data)
}

func TestGemm_StridedView(t *testing.T) {
	// Right half of a 2x4 matrix times identity.
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	a := Matrix{Rows: 2, Cols: 2, Stride: 4, Data: data[2:]}
	id := Dense(2, 2, []float64{1, 0, 0, 1})
	c := Dense(2, 2, make([]float64, 4))
	Gemm(false, false, 1, a, id, 0, c)
	require.Equal(t, []float64{3, 4, 7, 8}, c.Data)
}

func TestMinMaxAndFinite(t *testing.T) {
	x, err := FromData([]float64{3, -1, 2}, 3)
	require.NoError(t, err)
	lo, hi := x.MinMax()
	require.Equal(t, -1.0, lo)
	require.Equal(t, 3.0, hi)
	require.True(t, x.Finite())
	x.Data[1] = math.Inf(1)
	require.False(t, x.Finite())
}
