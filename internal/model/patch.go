package model

import (
	"fmt"
	"math"

	"lung-vision/internal/autograd"
	"lung-vision/internal/tensor"
)

// PatchEmbedding projects non-overlapping square image tiles to the shared
// embedding width.
type PatchEmbedding struct {
	size int
	proj *Linear
}

func newPatchEmbedding(src Source, arch Architecture) (*PatchEmbedding, error) {
	proj, err := newLinear(src, "image_patch_extractor.projection", 3*arch.PatchSize*arch.PatchSize, arch.ModelDim)
	if err != nil {
		return nil, err
	}
	return &PatchEmbedding{size: arch.PatchSize, proj: proj}, nil
}

// Forward maps [B, 3, H, W] to [B, (H/p)*(W/p), D], patches in row-major order.
func (p *PatchEmbedding) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	tiles, err := tp.Patches(x, p.size)
	if err != nil {
		return nil, err
	}
	return p.proj.Forward(tp, tiles)
}

// PositionalEncoding adds a fixed sinusoidal table to a sequence.
type PositionalEncoding struct {
	table   *tensor.Tensor
	dropout float64
}

// NewPositionalEncoding precomputes maxLen positions of width d: even columns
// carry sin(pos·ω_i), odd columns cos(pos·ω_i), ω_i = 10000^(-2i/d).
func NewPositionalEncoding(maxLen, d int, dropout float64) *PositionalEncoding {
	t := tensor.New(maxLen, d)
	for pos := 0; pos < maxLen; pos++ {
		row := t.Data[pos*d : (pos+1)*d]
		for i := 0; i < d; i += 2 {
			angle := float64(pos) * math.Exp(float64(i)*(-math.Log(10000.0)/float64(d)))
			row[i] = math.Sin(angle)
			if i+1 < d {
				row[i+1] = math.Cos(angle)
			}
		}
	}
	return &PositionalEncoding{table: t, dropout: dropout}
}

func (p *PositionalEncoding) MaxLen() int { return p.table.Shape[0] }

func (p *PositionalEncoding) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	if err := x.Value.Expect(-1, -1, p.table.Shape[1]); err != nil {
		return nil, err
	}
	n := x.Shape()[1]
	if n > p.MaxLen() {
		return nil, fmt.Errorf("%w: sequence of %d exceeds %d positions", ErrInvalidInput, n, p.MaxLen())
	}
	window, err := tensor.FromData(p.table.Data[:n*p.table.Shape[1]], n, p.table.Shape[1])
	if err != nil {
		return nil, err
	}
	y, err := tp.AddConst(x, window)
	if err != nil {
		return nil, err
	}
	return tp.Dropout(y, p.dropout), nil
}
