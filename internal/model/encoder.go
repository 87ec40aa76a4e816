package model

import (
	"fmt"

	"lung-vision/internal/autograd"
	"lung-vision/internal/tensor"
)

// EncoderLayer is a post-norm transformer block: self-attention then a
// position-wise feed-forward, each wrapped in residual + layer norm.
type EncoderLayer struct {
	heads   int
	q, k, v *Linear
	out     *Linear
	ff1     *Linear
	ff2     *Linear
	norm1   *LayerNorm
	norm2   *LayerNorm
	dropout float64
}

func newEncoderLayer(src Source, name string, arch Architecture) (*EncoderLayer, error) {
	d := arch.ModelDim
	inW, err := param(src, name+".self_attn.in_proj_weight", 3*d, d)
	if err != nil {
		return nil, err
	}
	inB, err := param(src, name+".self_attn.in_proj_bias", 3*d)
	if err != nil {
		return nil, err
	}
	l := &EncoderLayer{heads: arch.Heads, dropout: arch.Dropout}
	// The packed projection holds query, key and value rows in that order.
	split := make([]*Linear, 3)
	for i := range split {
		w, _ := tensor.FromData(inW.Data[i*d*d:(i+1)*d*d], d, d)
		b, _ := tensor.FromData(inB.Data[i*d:(i+1)*d], d)
		split[i] = &Linear{Weight: w, Bias: b}
	}
	l.q, l.k, l.v = split[0], split[1], split[2]
	if l.out, err = newLinear(src, name+".self_attn.out_proj", d, d); err != nil {
		return nil, err
	}
	if l.ff1, err = newLinear(src, name+".linear1", d, arch.FeedForwardDim); err != nil {
		return nil, err
	}
	if l.ff2, err = newLinear(src, name+".linear2", arch.FeedForwardDim, d); err != nil {
		return nil, err
	}
	if l.norm1, err = newLayerNorm(src, name+".norm1", d); err != nil {
		return nil, err
	}
	if l.norm2, err = newLayerNorm(src, name+".norm2", d); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *EncoderLayer) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	q, err := l.q.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	k, err := l.k.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	v, err := l.v.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	a, err := tp.Attention(q, k, v, l.heads)
	if err != nil {
		return nil, err
	}
	if a, err = l.out.Forward(tp, a); err != nil {
		return nil, err
	}
	if x, err = tp.Add(x, tp.Dropout(a, l.dropout)); err != nil {
		return nil, err
	}
	if x, err = l.norm1.Forward(tp, x); err != nil {
		return nil, err
	}

	h, err := l.ff1.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	if h, err = l.ff2.Forward(tp, tp.Dropout(tp.ReLU(h), l.dropout)); err != nil {
		return nil, err
	}
	if x, err = tp.Add(x, tp.Dropout(h, l.dropout)); err != nil {
		return nil, err
	}
	return l.norm2.Forward(tp, x)
}

// Encoder adds positions to the patch sequence and runs the block stack.
type Encoder struct {
	pos    *PositionalEncoding
	layers []*EncoderLayer
}

func newEncoder(src Source, arch Architecture) (*Encoder, error) {
	e := &Encoder{pos: NewPositionalEncoding(arch.MaxSequence, arch.ModelDim, arch.Dropout)}
	for i := 0; i < arch.EncoderLayers; i++ {
		l, err := newEncoderLayer(src, fmt.Sprintf("transformer_encoder.transformer.layers.%d", i), arch)
		if err != nil {
			return nil, err
		}
		e.layers = append(e.layers, l)
	}
	return e, nil
}

// Forward keeps the [B, T, D] shape of its input.
func (e *Encoder) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	x, err := e.pos.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	for i, l := range e.layers {
		if x, err = l.Forward(tp, x); err != nil {
			return nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
	}
	return x, nil
}
