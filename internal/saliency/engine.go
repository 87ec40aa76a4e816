// Package saliency derives class-discriminative importance masks (Grad-CAM)
// from the gradient of one logit with respect to an internal feature map.
package saliency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"lung-vision/internal/autograd"
	"lung-vision/internal/model"
	"lung-vision/internal/tensor"
)

// Epsilon guards the min-max normalisation of a flat mask.
const Epsilon = 1e-8

// TopClass selects the model's own highest-scoring class.
const TopClass = -1

var (
	ErrCaptureIncomplete = errors.New("saliency: capture incomplete")
	ErrInvalidClass      = errors.New("saliency: class index out of range")
)

// Capture holds what one forward and backward pass recorded at the target
// layer. Activation and Gradient share the layer's [1, C, h, w] shape.
type Capture struct {
	Layer      string
	Activation *tensor.Tensor
	Gradient   *tensor.Tensor
	Class      int
	Logits     []float64
}

// Engine computes Grad-CAM masks at one layer fixed at construction.
//
// An Engine keeps no per-call state; every pass runs on its own tape and
// returns its Capture by value. Calls on one Engine are still serialised so
// that a single engine holds at most one pass worth of activations in memory.
type Engine struct {
	layer model.LayerID
	name  string
	mu    sync.Mutex
}

// NewEngine resolves targetLayer against arch. An unknown name fails with
// model.ErrLayerNotFound.
func NewEngine(arch model.Architecture, targetLayer string) (*Engine, error) {
	id, err := arch.ResolveLayer(targetLayer)
	if err != nil {
		return nil, err
	}
	return &Engine{layer: id, name: targetLayer}, nil
}

func (e *Engine) Layer() string { return e.name }

// Capture runs one forward pass of rt's model on img [1, 3, S, S] and
// back-propagates the logit of class (TopClass for the arg-max) down to the
// target layer.
func (e *Engine) Capture(ctx context.Context, rt *model.Runtime, img *tensor.Tensor, class int) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	if err := rt.Model.CheckInput(img); err != nil {
		return Capture{}, err
	}
	if img.Shape[0] != 1 {
		return Capture{}, fmt.Errorf("%w: saliency takes one image, got batch of %d", model.ErrInvalidInput, img.Shape[0])
	}
	// The id was resolved against an architecture; make sure rt runs the same
	// layer table.
	id, err := rt.Model.ResolveLayer(e.name)
	if err != nil || id != e.layer {
		return Capture{}, fmt.Errorf("%w: %q in runtime model", model.ErrLayerNotFound, e.name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tp := autograd.NewTape(true)
	logits, act, err := rt.Model.Trace(tp, tp.Input(img), e.layer)
	if err != nil {
		return Capture{}, err
	}
	scores := append([]float64(nil), logits.Value.Data...)
	if class == TopClass {
		class = tensor.Argmax(scores)
	}
	if class < 0 || class >= len(scores) {
		return Capture{}, fmt.Errorf("%w: %d of %d", ErrInvalidClass, class, len(scores))
	}
	if act == nil || act.Value.Dims() != 4 {
		return Capture{}, fmt.Errorf("%w: no activation at %s", ErrCaptureIncomplete, e.name)
	}

	seed := tensor.New(logits.Shape()...)
	seed.Data[class] = 1
	if err := tp.Backward(logits, seed); err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrCaptureIncomplete, err)
	}
	if act.Grad == nil {
		return Capture{}, fmt.Errorf("%w: no gradient reached %s", ErrCaptureIncomplete, e.name)
	}
	return Capture{
		Layer:      e.name,
		Activation: act.Value,
		Gradient:   act.Grad,
		Class:      class,
		Logits:     scores,
	}, nil
}

// Generate captures and returns the mask at the input's spatial resolution.
func (e *Engine) Generate(ctx context.Context, rt *model.Runtime, img *tensor.Tensor, class int) (*tensor.Tensor, Capture, error) {
	c, err := e.Capture(ctx, rt, img, class)
	if err != nil {
		return nil, Capture{}, err
	}
	mask, err := Mask(c, img.Shape[2], img.Shape[3])
	if err != nil {
		return nil, Capture{}, err
	}
	return mask, c, nil
}

// Mask turns a capture into an [h, w] map in [0, 1]. Channel weights are the
// spatial mean of the gradient; the weighted activation sum is clipped at
// zero, min-max normalised and bilinearly resampled.
func Mask(c Capture, h, w int) (*tensor.Tensor, error) {
	if c.Activation == nil || c.Gradient == nil {
		return nil, ErrCaptureIncomplete
	}
	if err := c.Activation.Expect(1, -1, -1, -1); err != nil {
		return nil, err
	}
	if !c.Gradient.SameShape(c.Activation) {
		return nil, fmt.Errorf("%w: gradient %v for activation %v", tensor.ErrShape, c.Gradient.Shape, c.Activation.Shape)
	}
	ch, fh, fw := c.Activation.Shape[1], c.Activation.Shape[2], c.Activation.Shape[3]
	hw := fh * fw

	cam := make([]float64, hw)
	for k := 0; k < ch; k++ {
		g := c.Gradient.Data[k*hw : (k+1)*hw]
		weight := 0.0
		for _, v := range g {
			weight += v
		}
		weight /= float64(hw)
		a := c.Activation.Data[k*hw : (k+1)*hw]
		for i, v := range a {
			cam[i] += weight * v
		}
	}
	// +Inf saturates to the largest finite score so it still maps to 1.
	top := 0.0
	for i, v := range cam {
		switch {
		case math.IsInf(v, 1):
		case !(v > 0):
			cam[i] = 0
		default:
			top = max(top, v)
		}
	}
	if top == 0 {
		top = 1
	}
	for i, v := range cam {
		if math.IsInf(v, 1) {
			cam[i] = top
		}
	}
	lo, hi := cam[0], cam[0]
	for _, v := range cam {
		lo, hi = min(lo, v), max(hi, v)
	}
	for i := range cam {
		cam[i] = (cam[i] - lo) / (hi - lo + Epsilon)
	}

	up := tensor.ResizeBilinear(cam, fh, fw, h, w)
	for i, v := range up {
		up[i] = min(max(v, 0), 1)
	}
	return tensor.FromData(up, h, w)
}
