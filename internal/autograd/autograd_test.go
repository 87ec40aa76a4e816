package autograd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"lung-vision/internal/tensor"
)

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// checkGrad compares the tape gradient of sum(f(x) ⊙ r) against central
// differences for every input element.
func checkGrad(t *testing.T, x *tensor.Tensor, f func(tp *Tape, x *Var) (*Var, error)) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	tp := NewTape(true)
	in := tp.Input(x)
	out, err := f(tp, in)
	require.NoError(t, err)
	seed := randTensor(rng, out.Shape()...)
	require.NoError(t, tp.Backward(out, seed))
	require.NotNil(t, in.Grad)

	loss := func() float64 {
		y, err := f(NewTape(false), NewTape(false).Const(x))
		require.NoError(t, err)
		var s float64
		for i, v := range y.Value.Data {
			s += v * seed.Data[i]
		}
		return s
	}
	const h = 1e-6
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		up := loss()
		x.Data[i] = orig - h
		down := loss()
		x.Data[i] = orig
		num := (up - down) / (2 * h)
		require.InDelta(t, num, in.Grad.Data[i], 1e-4*math.Max(1, math.Abs(num)), "element %d", i)
	}
}

func TestLinearGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w, b := randTensor(rng, 4, 3), randTensor(rng, 4)
	checkGrad(t, randTensor(rng, 2, 5, 3), func(tp *Tape, x *Var) (*Var, error) {
		return tp.Linear(x, w, b)
	})
}

func TestConv2DGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	w, b := randTensor(rng, 3, 2, 3, 3), randTensor(rng, 3)
	checkGrad(t, randTensor(rng, 2, 2, 5, 5), func(tp *Tape, x *Var) (*Var, error) {
		return tp.Conv2D(x, w, b, ConvSpec{Stride: 2, Padding: 1})
	})
	pointwise := randTensor(rng, 4, 2, 1, 1)
	checkGrad(t, randTensor(rng, 1, 2, 3, 3), func(tp *Tape, x *Var) (*Var, error) {
		return tp.Conv2D(x, pointwise, nil, ConvSpec{Stride: 1})
	})
}

func TestConv2D_Values(t *testing.T) {
	tp := NewTape(false)
	x, _ := tensor.FromData([]float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	w, _ := tensor.FromData([]float64{1, 1, 1, 1}, 1, 1, 2, 2)
	y, err := tp.Conv2D(tp.Const(x), w, nil, ConvSpec{Stride: 1})
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 2, 2}, y.Shape())
	require.Equal(t, []float64{12, 16, 24, 28}, y.Value.Data)
}

func TestMaxPoolGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	checkGrad(t, randTensor(rng, 1, 2, 6, 6), func(tp *Tape, x *Var) (*Var, error) {
		return tp.MaxPool2D(x, 3, ConvSpec{Stride: 2, Padding: 1})
	})
}

func TestLayerNormGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	g, b := randTensor(rng, 6), randTensor(rng, 6)
	checkGrad(t, randTensor(rng, 2, 3, 6), func(tp *Tape, x *Var) (*Var, error) {
		return tp.LayerNorm(x, g, b, 1e-5)
	})
}

func TestAttentionGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	kv := randTensor(rng, 2, 5, 8)
	checkGrad(t, randTensor(rng, 2, 3, 8), func(tp *Tape, x *Var) (*Var, error) {
		return tp.Attention(x, tp.Const(kv), tp.Const(kv), 2)
	})
	q := randTensor(rng, 2, 3, 8)
	checkGrad(t, randTensor(rng, 2, 5, 8), func(tp *Tape, x *Var) (*Var, error) {
		return tp.Attention(tp.Const(q), x, x, 4)
	})
}

func TestAttention_OutputFollowsQueries(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	tp := NewTape(false)
	out, err := tp.Attention(tp.Const(randTensor(rng, 1, 7, 8)), tp.Const(randTensor(rng, 1, 2, 8)), tp.Const(randTensor(rng, 1, 2, 8)), 2)
	require.NoError(t, err)
	require.Equal(t, []int{1, 7, 8}, out.Shape())

	_, err = tp.Attention(tp.Const(randTensor(rng, 1, 7, 8)), tp.Const(randTensor(rng, 1, 2, 8)), tp.Const(randTensor(rng, 1, 2, 8)), 3)
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestSpatialOpsGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x := randTensor(rng, 2, 3, 4, 4)
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.Resize(x, 3, 5) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.Resize(x, 7, 2) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.MeanSpatial(x) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.FlattenSpatial(x) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.Patches(x, 2) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) {
		s, err := tp.MeanSpatial(x)
		if err != nil {
			return nil, err
		}
		return tp.ScaleChannels(x, tp.Sigmoid(s))
	})
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) {
		return tp.ChannelAffine(x, []float64{1, -2, 0.5}, []float64{0, 1, 2})
	})
}

func TestSequenceOpsGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	x := randTensor(rng, 2, 4, 3)
	pe := randTensor(rng, 4, 3)
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.MeanSeq(x) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) { return tp.AddConst(x, pe) })
	checkGrad(t, x, func(tp *Tape, x *Var) (*Var, error) {
		doubled, err := tp.Add(x, x)
		if err != nil {
			return nil, err
		}
		return tp.Concat(doubled, x, tp.ReLU(x))
	})
}

func TestPatches_Layout(t *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	x, _ := tensor.FromData(data, 1, 1, 4, 4)
	tp := NewTape(false)
	y, err := tp.Patches(tp.Const(x), 2)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4}, y.Shape())
	// second tile is the top-right 2x2 block
	require.Equal(t, []float64{2, 3, 6, 7}, y.Value.Data[4:8])

	_, err = tp.Patches(tp.Const(x), 3)
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestResize_SameSizeIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	x := randTensor(rng, 1, 2, 3, 3)
	tp := NewTape(false)
	y, err := tp.Resize(tp.Const(x), 3, 3)
	require.NoError(t, err)
	require.Equal(t, x.Data, y.Value.Data)
}

func TestDropout_IdentityOutsideTraining(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := randTensor(rng, 3, 4)
	tp := NewTape(false)
	in := tp.Const(x)
	require.Same(t, in, tp.Dropout(in, 0.5))

	tp.Train(1)
	out := tp.Dropout(in, 0.5)
	for i, v := range out.Value.Data {
		require.True(t, v == 0 || math.Abs(v-2*x.Data[i]) < 1e-12)
	}
}

func TestBackward_Errors(t *testing.T) {
	x := tensor.New(2)
	tp := NewTape(false)
	require.ErrorIs(t, tp.Backward(tp.Input(x), tensor.New(2)), ErrNotRecording)

	tp = NewTape(true)
	c := tp.ReLU(tp.Const(x))
	require.ErrorIs(t, tp.Backward(c, tensor.New(2)), ErrNotTracked)
	in := tp.ReLU(tp.Input(x))
	require.ErrorIs(t, tp.Backward(in, tensor.New(3)), tensor.ErrShape)
}

func TestConcat_RejectsMismatchedPlanes(t *testing.T) {
	tp := NewTape(false)
	a := tp.Const(tensor.New(1, 2, 2, 8))
	b := tp.Const(tensor.New(1, 3, 4, 4))
	_, err := tp.Concat(a, b)
	require.ErrorIs(t, err, tensor.ErrShape)

	y, err := tp.Concat(a, tp.Const(tensor.New(1, 3, 2, 8)))
	require.NoError(t, err)
	require.Equal(t, []int{1, 5, 2, 8}, y.Shape())
}
