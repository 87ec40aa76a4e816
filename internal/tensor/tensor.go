package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when data does not fit the requested shape.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major float64 array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zero tensor.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, Volume(shape))}
}

// FromData wraps data without copying it.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if Volume(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Volume is the number of elements a shape holds.
func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Len() int  { return len(t.Data) }
func (t *Tensor) Dims() int { return len(t.Shape) }

// Dim returns the size of axis i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float64(nil), t.Data...)}
}

// Reshape returns a view sharing t's data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromData(t.Data, shape...)
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Expect checks t against a shape; -1 matches any size on that axis.
func (t *Tensor) Expect(shape ...int) error {
	if len(t.Shape) != len(shape) {
		return fmt.Errorf("%w: got %v, want rank %d", ErrShape, t.Shape, len(shape))
	}
	for i, d := range shape {
		if d >= 0 && t.Shape[i] != d {
			return fmt.Errorf("%w: got %v, want %v", ErrShape, t.Shape, shape)
		}
	}
	return nil
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (lo, hi float64) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	lo, hi = t.Data[0], t.Data[0]
	for _, v := range t.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Finite reports whether every element is neither NaN nor Inf.
func (t *Tensor) Finite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Row returns the i-th slice along the leading axis as a view.
func (t *Tensor) Row(i int) *Tensor {
	inner := Volume(t.Shape[1:])
	return &Tensor{Shape: append([]int(nil), t.Shape[1:]...), Data: t.Data[i*inner : (i+1)*inner]}
}

// Softmax returns the numerically stable softmax of a vector.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest element, the first one on ties.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
