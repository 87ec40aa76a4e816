package model

import (
	"fmt"

	"lung-vision/internal/autograd"
)

// CrossAttentionLayer lets a query sequence attend to a context sequence.
// The output has the query's length; the residual is taken against the
// projected query.
type CrossAttentionLayer struct {
	heads      int
	width      int
	q, k, v, o *Linear
	norm       *LayerNorm
}

func newCrossAttentionLayer(src Source, name string, width, heads int) (*CrossAttentionLayer, error) {
	l := &CrossAttentionLayer{heads: heads, width: width}
	var err error
	for _, p := range []struct {
		field **Linear
		name  string
	}{{&l.q, "w_q"}, {&l.k, "w_k"}, {&l.v, "w_v"}, {&l.o, "w_o"}} {
		if *p.field, err = newLinear(src, name+"."+p.name, width, width); err != nil {
			return nil, err
		}
	}
	if l.norm, err = newLayerNorm(src, name+".norm", width); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CrossAttentionLayer) Forward(tp *autograd.Tape, query, key, value *autograd.Var) (*autograd.Var, error) {
	q, err := l.q.Forward(tp, query)
	if err != nil {
		return nil, err
	}
	k, err := l.k.Forward(tp, key)
	if err != nil {
		return nil, err
	}
	v, err := l.v.Forward(tp, value)
	if err != nil {
		return nil, err
	}
	a, err := tp.Attention(q, k, v, l.heads)
	if err != nil {
		return nil, err
	}
	if a, err = l.o.Forward(tp, a); err != nil {
		return nil, err
	}
	out, err := tp.Add(q, a)
	if err != nil {
		return nil, err
	}
	return l.norm.Forward(tp, out)
}

// CrossAttention is a stack of cross-attention layers sharing one context.
// The same instance serves both directions of the fusion.
type CrossAttention struct {
	width  int
	layers []*CrossAttentionLayer
}

// NewCrossAttention builds depth layers of the given width. Widths are fixed
// here; sequences of any other width are rejected at call time.
func NewCrossAttention(src Source, width, heads, depth int) (*CrossAttention, error) {
	if heads <= 0 || width <= 0 || width%heads != 0 {
		return nil, fmt.Errorf("%w: width %d, heads %d", ErrHeadsNotDivisible, width, heads)
	}
	c := &CrossAttention{width: width}
	for i := 0; i < depth; i++ {
		l, err := newCrossAttentionLayer(src, fmt.Sprintf("cross_attention.layers.%d", i), width, heads)
		if err != nil {
			return nil, err
		}
		c.layers = append(c.layers, l)
	}
	return c, nil
}

func (c *CrossAttention) Width() int { return c.width }

var roles = [3]string{"query", "key", "value"}

// Forward refines query against key/value through every layer. Key and value
// stay fixed across layers.
func (c *CrossAttention) Forward(tp *autograd.Tape, query, key, value *autograd.Var) (*autograd.Var, error) {
	for i, x := range []*autograd.Var{query, key, value} {
		if x.Value.Dims() != 3 || x.Shape()[2] != c.width {
			return nil, fmt.Errorf("%w: %s shape %v, want [B, T, %d]", ErrWidthMismatch, roles[i], x.Shape(), c.width)
		}
	}
	out := query
	var err error
	for i, l := range c.layers {
		if out, err = l.Forward(tp, out, key, value); err != nil {
			return nil, fmt.Errorf("cross attention layer %d: %w", i, err)
		}
	}
	return out, nil
}
