package autograd

import (
	"fmt"
	"math"

	"lung-vision/internal/tensor"
)

// Linear applies y = x·Wᵀ + b over the last axis of x. w is [out, in] and b,
// when non-nil, is [out].
func (tp *Tape) Linear(x *Var, w, b *tensor.Tensor) (*Var, error) {
	s := x.Shape()
	if len(s) == 0 || w.Dims() != 2 || w.Shape[1] != s[len(s)-1] {
		return nil, fmt.Errorf("%w: linear %v over input %v", tensor.ErrShape, w.Shape, s)
	}
	in, outDim := w.Shape[1], w.Shape[0]
	if b != nil && b.Len() != outDim {
		return nil, fmt.Errorf("%w: bias %v for weight %v", tensor.ErrShape, b.Shape, w.Shape)
	}
	rows := x.Value.Len() / in
	shape := append(append([]int(nil), s[:len(s)-1]...), outDim)
	y := tensor.New(shape...)
	if b != nil {
		for r := 0; r < rows; r++ {
			copy(y.Data[r*outDim:(r+1)*outDim], b.Data)
		}
	}
	W := tensor.Dense(outDim, in, w.Data)
	tensor.Gemm(false, true, 1, tensor.Dense(rows, in, x.Value.Data), W, 1, tensor.Dense(rows, outDim, y.Data))
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			tensor.Gemm(false, false, 1, tensor.Dense(rows, outDim, out.Grad.Data), W, 1, tensor.Dense(rows, in, g))
		}
	}, x), nil
}

// LayerNorm normalises the last axis and applies gain and bias.
func (tp *Tape) LayerNorm(x *Var, gain, bias *tensor.Tensor, eps float64) (*Var, error) {
	s := x.Shape()
	d := s[len(s)-1]
	if gain.Len() != d || bias.Len() != d {
		return nil, fmt.Errorf("%w: layer norm of width %d over %v", tensor.ErrShape, gain.Len(), s)
	}
	rows := x.Value.Len() / d
	y := tensor.New(s...)
	xhat := make([]float64, x.Value.Len())
	rstd := make([]float64, rows)
	for r := 0; r < rows; r++ {
		row := x.Value.Data[r*d : (r+1)*d]
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(d)
		var variance float64
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(d)
		rstd[r] = 1 / math.Sqrt(variance+eps)
		for i, v := range row {
			h := (v - mean) * rstd[r]
			xhat[r*d+i] = h
			y.Data[r*d+i] = h*gain.Data[i] + bias.Data[i]
		}
	}
	return tp.node(y, func(out *Var) {
		g := x.grad()
		if g == nil {
			return
		}
		dh := make([]float64, d)
		for r := 0; r < rows; r++ {
			dy := out.Grad.Data[r*d : (r+1)*d]
			h := xhat[r*d : (r+1)*d]
			var sum, dot float64
			for i := range dh {
				dh[i] = dy[i] * gain.Data[i]
				sum += dh[i]
				dot += dh[i] * h[i]
			}
			sum /= float64(d)
			dot /= float64(d)
			for i := range dh {
				g[r*d+i] += rstd[r] * (dh[i] - sum - h[i]*dot)
			}
		}
	}, x), nil
}

// MeanSeq averages a [B, T, D] sequence over T.
func (tp *Tape) MeanSeq(x *Var) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1); err != nil {
		return nil, err
	}
	bs, t, d := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	y := tensor.New(bs, d)
	inv := 1 / float64(t)
	for b := 0; b < bs; b++ {
		for i := 0; i < t; i++ {
			row := x.Value.Data[(b*t+i)*d : (b*t+i+1)*d]
			for j, v := range row {
				y.Data[b*d+j] += v * inv
			}
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for b := 0; b < bs; b++ {
				dy := out.Grad.Data[b*d : (b+1)*d]
				for i := 0; i < t; i++ {
					row := g[(b*t+i)*d : (b*t+i+1)*d]
					for j, v := range dy {
						row[j] += v * inv
					}
				}
			}
		}
	}, x), nil
}
