// Package autograd records the operations of a single forward pass and
// propagates gradients back to the recorded activations.
//
// Parameters are passed as plain tensors and never receive gradients: the
// weights of a loaded model are frozen. A Tape is owned by one call and must
// not be shared between goroutines.
package autograd

import (
	"errors"
	"fmt"
	"math/rand"

	"lung-vision/internal/tensor"
)

var (
	ErrNotRecording = errors.New("autograd: tape does not record gradients")
	ErrNotTracked   = errors.New("autograd: value does not depend on a tracked input")
)

// Var is one value produced on a tape.
type Var struct {
	Value *tensor.Tensor
	Grad  *tensor.Tensor

	track bool
	back  func()
}

// Tracked reports whether gradients flow into v.
func (v *Var) Tracked() bool { return v.track }

func (v *Var) Shape() []int { return v.Value.Shape }

// grad returns v's gradient buffer, allocating it on first use, or nil when v
// is not tracked.
func (v *Var) grad() []float64 {
	if !v.track {
		return nil
	}
	if v.Grad == nil {
		v.Grad = tensor.New(v.Value.Shape...)
	}
	return v.Grad.Data
}

type Tape struct {
	record   bool
	nodes    []*Var
	training bool
	rng      *rand.Rand
}

// NewTape returns a tape. With record=false operations only compute values.
func NewTape(record bool) *Tape {
	return &Tape{record: record}
}

// Train switches dropout on, drawing masks from a seeded source.
func (tp *Tape) Train(seed int64) {
	tp.training = true
	tp.rng = rand.New(rand.NewSource(seed))
}

func (tp *Tape) Training() bool { return tp.training }

// Const wraps a tensor that gradients never flow into.
func (tp *Tape) Const(t *tensor.Tensor) *Var {
	return &Var{Value: t}
}

// Input wraps a tensor gradients are tracked from.
func (tp *Tape) Input(t *tensor.Tensor) *Var {
	return &Var{Value: t, track: tp.record}
}

// node registers an operation result. back runs during Backward once the
// result has a gradient.
func (tp *Tape) node(value *tensor.Tensor, back func(out *Var), parents ...*Var) *Var {
	out := &Var{Value: value}
	if !tp.record {
		return out
	}
	for _, p := range parents {
		if p.track {
			out.track = true
			break
		}
	}
	if out.track {
		out.back = func() { back(out) }
		tp.nodes = append(tp.nodes, out)
	}
	return out
}

// Backward seeds out's gradient and propagates it through every recorded
// operation in reverse order.
func (tp *Tape) Backward(out *Var, seed *tensor.Tensor) error {
	if !tp.record {
		return ErrNotRecording
	}
	if !out.track {
		return ErrNotTracked
	}
	if !seed.SameShape(out.Value) {
		return fmt.Errorf("%w: seed %v for value %v", tensor.ErrShape, seed.Shape, out.Value.Shape)
	}
	out.Grad = seed.Clone()
	for i := len(tp.nodes) - 1; i >= 0; i-- {
		n := tp.nodes[i]
		if n.Grad != nil && n.back != nil {
			n.back()
		}
	}
	return nil
}
