package autograd

import (
	"fmt"
	"math"

	"lung-vision/internal/tensor"
)

// ConvSpec describes a 2-D convolution window.
type ConvSpec struct {
	Stride  int
	Padding int
}

func outSize(in, k, stride, pad int) int {
	return (in+2*pad-k)/stride + 1
}

// Conv2D convolves x [B, Ci, H, W] with w [Co, Ci, kh, kw]; b may be nil.
func (tp *Tape) Conv2D(x *Var, w, b *tensor.Tensor, spec ConvSpec) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	if w.Dims() != 4 || w.Shape[1] != x.Shape()[1] {
		return nil, fmt.Errorf("%w: conv weight %v over input %v", tensor.ErrShape, w.Shape, x.Shape())
	}
	bs, ci, h, wd := x.Shape()[0], x.Shape()[1], x.Shape()[2], x.Shape()[3]
	co, kh, kw := w.Shape[0], w.Shape[2], w.Shape[3]
	stride := max(spec.Stride, 1)
	ho, wo := outSize(h, kh, stride, spec.Padding), outSize(wd, kw, stride, spec.Padding)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("%w: conv %dx%d stride %d on %dx%d", tensor.ErrShape, kh, kw, stride, h, wd)
	}
	if b != nil && b.Len() != co {
		return nil, fmt.Errorf("%w: conv bias %v for %d outputs", tensor.ErrShape, b.Shape, co)
	}

	k, n := ci*kh*kw, ho*wo
	direct := kh == 1 && kw == 1 && stride == 1 && spec.Padding == 0
	geom := im2col{c: ci, h: h, w: wd, kh: kh, kw: kw, stride: stride, pad: spec.Padding, ho: ho, wo: wo}
	W := tensor.Dense(co, k, w.Data)
	y := tensor.New(bs, co, ho, wo)
	var cols []float64
	if !direct {
		cols = make([]float64, k*n)
	}
	for bi := 0; bi < bs; bi++ {
		plane := x.Value.Data[bi*ci*h*wd : (bi+1)*ci*h*wd]
		src := plane
		if !direct {
			geom.gather(plane, cols)
			src = cols
		}
		dst := y.Data[bi*co*n : (bi+1)*co*n]
		if b != nil {
			for c := 0; c < co; c++ {
				for i := c * n; i < (c+1)*n; i++ {
					dst[i] = b.Data[c]
				}
			}
		}
		tensor.Gemm(false, false, 1, W, tensor.Dense(k, n, src), 1, tensor.Dense(co, n, dst))
	}

	return tp.node(y, func(out *Var) {
		g := x.grad()
		if g == nil {
			return
		}
		dcols := make([]float64, k*n)
		for bi := 0; bi < bs; bi++ {
			dy := out.Grad.Data[bi*co*n : (bi+1)*co*n]
			dx := g[bi*ci*h*wd : (bi+1)*ci*h*wd]
			if direct {
				tensor.Gemm(true, false, 1, W, tensor.Dense(co, n, dy), 1, tensor.Dense(k, n, dx))
				continue
			}
			tensor.Gemm(true, false, 1, W, tensor.Dense(co, n, dy), 0, tensor.Dense(k, n, dcols))
			geom.scatter(dcols, dx)
		}
	}, x), nil
}

type im2col struct {
	c, h, w     int
	kh, kw      int
	stride, pad int
	ho, wo      int
}

// gather lays out the receptive fields of one image as columns.
func (g im2col) gather(img, cols []float64) {
	n := g.ho * g.wo
	for c := 0; c < g.c; c++ {
		for ky := 0; ky < g.kh; ky++ {
			for kx := 0; kx < g.kw; kx++ {
				row := cols[((c*g.kh+ky)*g.kw+kx)*n:]
				for oy := 0; oy < g.ho; oy++ {
					iy := oy*g.stride - g.pad + ky
					for ox := 0; ox < g.wo; ox++ {
						ix := ox*g.stride - g.pad + kx
						v := 0.0
						if iy >= 0 && iy < g.h && ix >= 0 && ix < g.w {
							v = img[(c*g.h+iy)*g.w+ix]
						}
						row[oy*g.wo+ox] = v
					}
				}
			}
		}
	}
}

// scatter is the adjoint of gather: it accumulates columns back into an
// image-shaped buffer.
func (g im2col) scatter(cols, img []float64) {
	n := g.ho * g.wo
	for c := 0; c < g.c; c++ {
		for ky := 0; ky < g.kh; ky++ {
			for kx := 0; kx < g.kw; kx++ {
				row := cols[((c*g.kh+ky)*g.kw+kx)*n:]
				for oy := 0; oy < g.ho; oy++ {
					iy := oy*g.stride - g.pad + ky
					if iy < 0 || iy >= g.h {
						continue
					}
					for ox := 0; ox < g.wo; ox++ {
						ix := ox*g.stride - g.pad + kx
						if ix >= 0 && ix < g.w {
							img[(c*g.h+iy)*g.w+ix] += row[oy*g.wo+ox]
						}
					}
				}
			}
		}
	}
}

// ChannelAffine computes y = x*scale[c] + shift[c] on [B, C, H, W]. It is the
// inference form of batch normalisation.
func (tp *Tape) ChannelAffine(x *Var, scale, shift []float64) (*Var, error) {
	if err := x.Value.Expect(-1, len(scale), -1, -1); err != nil {
		return nil, err
	}
	if len(shift) != len(scale) {
		return nil, fmt.Errorf("%w: %d scales, %d shifts", tensor.ErrShape, len(scale), len(shift))
	}
	bs, c := x.Shape()[0], x.Shape()[1]
	hw := x.Shape()[2] * x.Shape()[3]
	y := tensor.New(x.Shape()...)
	for b := 0; b < bs; b++ {
		for ch := 0; ch < c; ch++ {
			off := (b*c + ch) * hw
			for i := off; i < off+hw; i++ {
				y.Data[i] = x.Value.Data[i]*scale[ch] + shift[ch]
			}
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for b := 0; b < bs; b++ {
				for ch := 0; ch < c; ch++ {
					off := (b*c + ch) * hw
					for i := off; i < off+hw; i++ {
						g[i] += out.Grad.Data[i] * scale[ch]
					}
				}
			}
		}
	}, x), nil
}

// MaxPool2D takes the maximum over k×k windows; padded cells never win.
func (tp *Tape) MaxPool2D(x *Var, k int, spec ConvSpec) (*Var, error) {
	if err := x.Value.Expect(-1, -1, -1, -1); err != nil {
		return nil, err
	}
	bs, c, h, w := x.Shape()[0], x.Shape()[1], x.Shape()[2], x.Shape()[3]
	stride := max(spec.Stride, 1)
	ho, wo := outSize(h, k, stride, spec.Padding), outSize(w, k, stride, spec.Padding)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("%w: pool %d stride %d on %dx%d", tensor.ErrShape, k, stride, h, w)
	}
	y := tensor.New(bs, c, ho, wo)
	arg := make([]int, y.Len())
	for p := 0; p < bs*c; p++ {
		plane := x.Value.Data[p*h*w : (p+1)*h*w]
		for oy := 0; oy < ho; oy++ {
			for ox := 0; ox < wo; ox++ {
				best, at := math.Inf(-1), -1
				for ky := 0; ky < k; ky++ {
					iy := oy*stride - spec.Padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < k; kx++ {
						ix := ox*stride - spec.Padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						if v := plane[iy*w+ix]; at < 0 || v > best {
							best, at = v, iy*w+ix
						}
					}
				}
				o := p*ho*wo + oy*wo + ox
				y.Data[o] = best
				arg[o] = p*h*w + at
			}
		}
	}
	return tp.node(y, func(out *Var) {
		if g := x.grad(); g != nil {
			for o, d := range out.Grad.Data {
				g[arg[o]] += d
			}
		}
	}, x), nil
}
