package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"lung-vision/internal/autograd"
	"lung-vision/internal/tensor"
)

var (
	ErrWeightMissing = errors.New("weight missing")
	ErrWeightShape   = errors.New("weight shape mismatch")
)

// Source supplies named parameters of an exact shape while a network is
// being built.
type Source interface {
	Param(name string, shape ...int) (*tensor.Tensor, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(name string, shape ...int) (*tensor.Tensor, error)

func (f SourceFunc) Param(name string, shape ...int) (*tensor.Tensor, error) {
	return f(name, shape...)
}

// RandomSource initialises parameters deterministically from a seed: biases
// and running means are zero, running variances and norm gains are one, and
// weights are normal with a fan-in scaled deviation.
type RandomSource struct {
	rng *rand.Rand
}

// NewRandomSource returns a Source whose draws depend only on seed and
// request order.
func NewRandomSource(seed int64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSource) Param(name string, shape ...int) (*tensor.Tensor, error) {
	t := tensor.New(shape...)
	switch {
	case strings.HasSuffix(name, "bias"), strings.HasSuffix(name, "running_mean"):
	case strings.HasSuffix(name, "running_var"), len(shape) == 1:
		for i := range t.Data {
			t.Data[i] = 1
		}
	default:
		fanIn := tensor.Volume(shape[1:])
		gain := 1.0
		if len(shape) == 4 {
			gain = 2
		}
		std := math.Sqrt(gain / float64(fanIn))
		for i := range t.Data {
			t.Data[i] = s.rng.NormFloat64() * std
		}
	}
	return t, nil
}

// Recorder wraps a Source and keeps every parameter it hands out, in request
// order.
type Recorder struct {
	Inner  Source
	Names  []string
	Params map[string]*tensor.Tensor
}

func (r *Recorder) Param(name string, shape ...int) (*tensor.Tensor, error) {
	t, err := r.Inner.Param(name, shape...)
	if err != nil {
		return nil, err
	}
	if r.Params == nil {
		r.Params = make(map[string]*tensor.Tensor)
	}
	r.Names = append(r.Names, name)
	r.Params[name] = t
	return t, nil
}

func param(src Source, name string, shape ...int) (*tensor.Tensor, error) {
	t, err := src.Param(name, shape...)
	if err != nil {
		return nil, err
	}
	if err := t.Expect(shape...); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrWeightShape, name, err)
	}
	return t, nil
}

// Linear is a fully connected layer with a [out, in] weight.
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

func newLinear(src Source, name string, in, out int) (*Linear, error) {
	w, err := param(src, name+".weight", out, in)
	if err != nil {
		return nil, err
	}
	b, err := param(src, name+".bias", out)
	if err != nil {
		return nil, err
	}
	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) In() int  { return l.Weight.Shape[1] }
func (l *Linear) Out() int { return l.Weight.Shape[0] }

// Forward applies the layer to the last dimension of x.
func (l *Linear) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return tp.Linear(x, l.Weight, l.Bias)
}

// Conv2D is a bias-free square convolution, as used before batch norm.
type Conv2D struct {
	Weight *tensor.Tensor
	Spec   autograd.ConvSpec
}

func newConv(src Source, name string, in, out, k, stride, pad int) (*Conv2D, error) {
	w, err := param(src, name+".weight", out, in, k, k)
	if err != nil {
		return nil, err
	}
	return &Conv2D{Weight: w, Spec: autograd.ConvSpec{Stride: stride, Padding: pad}}, nil
}

func (c *Conv2D) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return tp.Conv2D(x, c.Weight, nil, c.Spec)
}

// BatchNorm is an inference-mode batch norm folded into one scale and shift
// per channel.
type BatchNorm struct {
	Scale []float64
	Shift []float64
}

const batchNormEps = 1e-5

func newBatchNorm(src Source, name string, c int) (*BatchNorm, error) {
	var ts [4]*tensor.Tensor
	for i, suffix := range []string{"weight", "bias", "running_mean", "running_var"} {
		t, err := param(src, name+"."+suffix, c)
		if err != nil {
			return nil, err
		}
		ts[i] = t
	}
	bn := &BatchNorm{Scale: make([]float64, c), Shift: make([]float64, c)}
	for i := 0; i < c; i++ {
		bn.Scale[i] = ts[0].Data[i] / math.Sqrt(ts[3].Data[i]+batchNormEps)
		bn.Shift[i] = ts[1].Data[i] - ts[2].Data[i]*bn.Scale[i]
	}
	return bn, nil
}

func (b *BatchNorm) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return tp.ChannelAffine(x, b.Scale, b.Shift)
}

// LayerNorm normalizes over the last dimension.
type LayerNorm struct {
	Gain *tensor.Tensor
	Bias *tensor.Tensor
	Eps  float64
}

func newLayerNorm(src Source, name string, d int) (*LayerNorm, error) {
	g, err := param(src, name+".weight", d)
	if err != nil {
		return nil, err
	}
	b, err := param(src, name+".bias", d)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{Gain: g, Bias: b, Eps: 1e-5}, nil
}

func (n *LayerNorm) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return tp.LayerNorm(x, n.Gain, n.Bias, n.Eps)
}
