package autograd

import (
	"fmt"
	"math"
	"slices"

	"lung-vision/internal/tensor"
)

// Add returns a+b for equally shaped operands.
func (tp *Tape) Add(a, b *Var) (*Var, error) {
	if !a.Value.SameShape(b.Value) {
		return nil, fmt.Errorf("%w: add %v and %v", tensor.ErrShape, a.Shape(), b.Shape())
	}
	y := tensor.New(a.Shape()...)
	for i := range y.Data {
		y.Data[i] = a.Value.Data[i] + b.Value.Data[i]
	}
	return tp.node(y, func(out *Var) {
		for _, p := range []*Var{a, b} {
			if g := p.grad(); g != nil {
				for i, d := range out.Grad.Data {
					g[i] += d
				}
			}
		}
	}, a, b), nil
}

// AddConst adds a constant tensor that matches x's trailing axes, broadcast
// over the leading ones.
func (tp *Tape) AddConst(x *Var, c *tensor.Tensor) (*Var, error) {
	n := c.Len()
	if n == 0 || x.Value.Len()%n != 0 {
		return nil, fmt.Errorf("%w: broadcast %v onto %v", tensor.ErrShape, c.Shape, x.Shape())
	}
	y := tensor.New(x.Shape()...)
	for i, v := range x.Value.Data {
		y.Data[i] = v + c.Data[i%n]
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for i, d := range out.Grad.Data {
				g[i] += d
			}
		}
	}, x), nil
}

func (tp *Tape) ReLU(x *Var) *Var {
	y := tensor.New(x.Shape()...)
	for i, v := range x.Value.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for i, d := range out.Grad.Data {
				if out.Value.Data[i] > 0 {
					g[i] += d
				}
			}
		}
	}, x)
}

func (tp *Tape) Sigmoid(x *Var) *Var {
	y := tensor.New(x.Shape()...)
	for i, v := range x.Value.Data {
		y.Data[i] = 1 / (1 + math.Exp(-v))
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for i, d := range out.Grad.Data {
				s := out.Value.Data[i]
				g[i] += d * s * (1 - s)
			}
		}
	}, x)
}

// Dropout zeroes elements with probability p while training and rescales the
// rest. Outside training it returns x unchanged.
func (tp *Tape) Dropout(x *Var, p float64) *Var {
	if !tp.training || p <= 0 {
		return x
	}
	keep := 1 - p
	mask := make([]float64, x.Value.Len())
	y := tensor.New(x.Shape()...)
	for i, v := range x.Value.Data {
		if tp.rng.Float64() < keep {
			mask[i] = 1 / keep
			y.Data[i] = v * mask[i]
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for i, d := range out.Grad.Data {
				g[i] += d * mask[i]
			}
		}
	}, x)
}

// Concat joins tensors along axis 1. All inputs must agree on axis 0 and on
// every axis after 1.
func (tp *Tape) Concat(xs ...*Var) (*Var, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: concat of nothing", tensor.ErrShape)
	}
	first := xs[0].Shape()
	if len(first) < 2 {
		return nil, fmt.Errorf("%w: concat needs rank >= 2, got %v", tensor.ErrShape, first)
	}
	batch, inner := first[0], tensor.Volume(first[2:])
	total := 0
	for _, x := range xs {
		s := x.Shape()
		if len(s) != len(first) || s[0] != batch || !slices.Equal(s[2:], first[2:]) {
			return nil, fmt.Errorf("%w: concat %v with %v", tensor.ErrShape, first, s)
		}
		total += s[1]
	}
	shape := append([]int{batch, total}, first[2:]...)
	y := tensor.New(shape...)
	row := total * inner
	off := 0
	for _, x := range xs {
		w := x.Shape()[1] * inner
		for b := 0; b < batch; b++ {
			copy(y.Data[b*row+off:b*row+off+w], x.Value.Data[b*w:(b+1)*w])
		}
		off += w
	}
	return tp.node(y, func(out *Var) {
		off := 0
		for _, x := range xs {
			w := x.Shape()[1] * inner
			if g := x.grad(); g != nil {
				for b := 0; b < batch; b++ {
					src := out.Grad.Data[b*row+off : b*row+off+w]
					dst := g[b*w : (b+1)*w]
					for i, d := range src {
						dst[i] += d
					}
				}
			}
			off += w
		}
	}, xs...), nil
}
