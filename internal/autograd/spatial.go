package autograd

import (
	"fmt"

	"lung-vision/internal/tensor"
)

// Resize bilinearly resamples [B, C, H, W] to [B, C, oh, ow].
func (tp *Tape) Resize(x *Var, oh, ow int) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", tensor.ErrShape, oh, ow)
	}
	bs, c, h, w := x.Shape()[0], x.Shape()[1], x.Shape()[2], x.Shape()[3]
	if h == oh && w == ow {
		return x, nil
	}
	ys, xs := tensor.LerpTable(h, oh), tensor.LerpTable(w, ow)
	y := tensor.New(bs, c, oh, ow)
	for p := 0; p < bs*c; p++ {
		copy(y.Data[p*oh*ow:(p+1)*oh*ow], tensor.ResizeBilinear(x.Value.Data[p*h*w:(p+1)*h*w], h, w, oh, ow))
	}
	return tp.node(y, func(out *Var) {
		g := x.grad()
		if g == nil {
			return
		}
		for p := 0; p < bs*c; p++ {
			src := out.Grad.Data[p*oh*ow : (p+1)*oh*ow]
			dst := g[p*h*w : (p+1)*h*w]
			for oy, ly := range ys {
				for ox, lx := range xs {
					d := src[oy*ow+ox]
					dst[ly.I0*w+lx.I0] += d * ly.W0 * lx.W0
					dst[ly.I0*w+lx.I1] += d * ly.W0 * lx.W1
					dst[ly.I1*w+lx.I0] += d * ly.W1 * lx.W0
					dst[ly.I1*w+lx.I1] += d * ly.W1 * lx.W1
				}
			}
		}
	}, x), nil
}

// MeanSpatial averages [B, C, H, W] over H and W, giving [B, C].
func (tp *Tape) MeanSpatial(x *Var) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	bs, c := x.Shape()[0], x.Shape()[1]
	hw := x.Shape()[2] * x.Shape()[3]
	inv := 1 / float64(hw)
	y := tensor.New(bs, c)
	for p := range y.Data {
		var sum float64
		for _, v := range x.Value.Data[p*hw : (p+1)*hw] {
			sum += v
		}
		y.Data[p] = sum * inv
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for p, d := range out.Grad.Data {
				for i := p * hw; i < (p+1)*hw; i++ {
					g[i] += d * inv
				}
			}
		}
	}, x), nil
}

// ScaleChannels multiplies every plane of x [B, C, H, W] by s [B, C].
func (tp *Tape) ScaleChannels(x, s *Var) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	if err := s.Value.Expect(x.Shape()[0], x.Shape()[1]); err != nil {
		return nil, err
	}
	hw := x.Shape()[2] * x.Shape()[3]
	y := tensor.New(x.Shape()...)
	for p, f := range s.Value.Data {
		for i := p * hw; i < (p+1)*hw; i++ {
			y.Data[i] = x.Value.Data[i] * f
		}
	}
	return tp.node(y, func(out *Var) {
		gx, gs := x.grad(), s.grad()
		for p, f := range s.Value.Data {
			for i := p * hw; i < (p+1)*hw; i++ {
				d := out.Grad.Data[i]
				if gx != nil {
					gx[i] += d * f
				}
				if gs != nil {
					gs[p] += d * x.Value.Data[i]
				}
			}
		}
	}, x, s), nil
}

// FlattenSpatial turns a feature map [B, C, H, W] into a sequence
// [B, H*W, C], one token per spatial position in row-major order.
func (tp *Tape) FlattenSpatial(x *Var) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	bs, c := x.Shape()[0], x.Shape()[1]
	hw := x.Shape()[2] * x.Shape()[3]
	y := tensor.New(bs, hw, c)
	for b := 0; b < bs; b++ {
		for ch := 0; ch < c; ch++ {
			src := x.Value.Data[(b*c+ch)*hw : (b*c+ch+1)*hw]
			for t, v := range src {
				y.Data[(b*hw+t)*c+ch] = v
			}
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for b := 0; b < bs; b++ {
				for ch := 0; ch < c; ch++ {
					dst := g[(b*c+ch)*hw : (b*c+ch+1)*hw]
					for t := range dst {
						dst[t] += out.Grad.Data[(b*hw+t)*c+ch]
					}
				}
			}
		}
	}, x), nil
}

// Patches cuts [B, C, H, W] into non-overlapping p×p tiles and returns
// [B, (H/p)*(W/p), C*p*p]. Tiles are ordered row-major over the grid; within
// a tile values are ordered by channel, then row, then column.
func (tp *Tape) Patches(x *Var, p int) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	bs, c, h, w := x.Shape()[0], x.Shape()[1], x.Shape()[2], x.Shape()[3]
	if p <= 0 || h%p != 0 || w%p != 0 {
		return nil, fmt.Errorf("%w: %dx%d image is not a whole number of %d-pixel patches", tensor.ErrShape, h, w, p)
	}
	gh, gw := h/p, w/p
	feat := c * p * p
	y := tensor.New(bs, gh*gw, feat)
	index := func(b, tile, f int) (int, int) {
		ch, r := f/(p*p), f%(p*p)
		iy, ix := (tile/gw)*p+r/p, (tile%gw)*p+r%p
		return ((b*c+ch)*h+iy)*w + ix, (b*gh*gw+tile)*feat + f
	}
	for b := 0; b < bs; b++ {
		for tile := 0; tile < gh*gw; tile++ {
			for f := 0; f < feat; f++ {
				src, dst := index(b, tile, f)
				y.Data[dst] = x.Value.Data[src]
			}
		}
	}
	return tp.node(y, func(out *Var) {
		g := x.grad()
		if g == nil {
			return
		}
		for b := 0; b < bs; b++ {
			for tile := 0; tile < gh*gw; tile++ {
				for f := 0; f < feat; f++ {
					src, dst := index(b, tile, f)
					g[src] += out.Grad.Data[dst]
				}
			}
		}
	}, x), nil
}
