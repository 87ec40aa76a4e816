// Package model implements the hybrid chest-image classifier: a ResNet
// feature branch and a patch transformer branch fused by bidirectional cross
// attention.
//
// A built Hybrid is immutable. Every forward pass runs on a caller-owned
// autograd.Tape, so one model serves concurrent callers.
package model

import (
	"context"
	"fmt"

	"lung-vision/internal/autograd"
	"lung-vision/internal/tensor"
)

// Hybrid is the CNN and transformer network joined by cross-attention.
type Hybrid struct {
	arch      Architecture
	reg       *registry
	extractor *Extractor
	gate      *Gate
	patches   *PatchEmbedding
	encoder   *Encoder
	cnnToSeq  *Linear
	cross     *CrossAttention
	head      *Head
}

// New builds the network, drawing every parameter from src in a fixed order.
func New(arch Architecture, src Source) (*Hybrid, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	reg, err := newRegistry(arch)
	if err != nil {
		return nil, err
	}
	h := &Hybrid{arch: arch, reg: reg}
	backbone, err := newBackbone(src, arch.Backbone, reg)
	if err != nil {
		return nil, fmt.Errorf("build backbone: %w", err)
	}
	h.extractor = newExtractor(backbone, arch, reg)
	if h.gate, err = newGate(src, arch); err != nil {
		return nil, fmt.Errorf("build gate: %w", err)
	}
	if h.patches, err = newPatchEmbedding(src, arch); err != nil {
		return nil, fmt.Errorf("build patch embedding: %w", err)
	}
	if h.encoder, err = newEncoder(src, arch); err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	if h.cnnToSeq, err = newLinear(src, "cnn_to_seq", arch.FusedChannels(), arch.ModelDim); err != nil {
		return nil, fmt.Errorf("build sequence projection: %w", err)
	}
	if h.cross, err = NewCrossAttention(src, arch.ModelDim, arch.Heads, arch.CrossLayers); err != nil {
		return nil, fmt.Errorf("build cross attention: %w", err)
	}
	if h.head, err = newHead(src, arch); err != nil {
		return nil, fmt.Errorf("build head: %w", err)
	}
	return h, nil
}

// NewRandom builds a network with deterministic seeded parameters.
func NewRandom(arch Architecture, seed int64) (*Hybrid, error) {
	return New(arch, NewRandomSource(seed))
}

// Architecture returns the hyperparameters the model was built with.
func (h *Hybrid) Architecture() Architecture { return h.arch }

// ResolveLayer maps a layer name to the id Trace accepts.
func (h *Hybrid) ResolveLayer(name string) (LayerID, error) {
	return h.arch.ResolveLayer(name)
}

// CheckInput reports whether img is a [B, 3, S, S] batch at the network's
// image size.
func (h *Hybrid) CheckInput(img *tensor.Tensor) error {
	if img == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidInput)
	}
	s := h.arch.ImageSize
	if img.Dims() != 4 || img.Shape[0] < 1 || img.Shape[1] != 3 || img.Shape[2] != s || img.Shape[3] != s {
		return fmt.Errorf("%w: shape %v, want [B 3 %d %d]", ErrInvalidInput, img.Shape, s, s)
	}
	return nil
}

// Forward maps an image batch [B, 3, S, S] to logits [B, classes].
func (h *Hybrid) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	logits, _, err := h.run(tp, x, nil)
	return logits, err
}

// Trace runs Forward and also returns the feature map produced at layer. The
// tapped value is nil when the pass never reached the layer.
func (h *Hybrid) Trace(tp *autograd.Tape, x *autograd.Var, layer LayerID) (logits, tapped *autograd.Var, err error) {
	return h.run(tp, x, &trace{target: layer})
}

func (h *Hybrid) run(tp *autograd.Tape, x *autograd.Var, tr *trace) (*autograd.Var, *autograd.Var, error) {
	if err := h.CheckInput(x.Value); err != nil {
		return nil, nil, err
	}
	fused, err := h.extractor.Forward(tp, x, tr)
	if err != nil {
		return nil, nil, err
	}
	gated, err := h.gate.Forward(tp, fused)
	if err != nil {
		return nil, nil, err
	}
	tr.mark(h.reg.gate, gated)

	cnn, err := tp.FlattenSpatial(gated)
	if err != nil {
		return nil, nil, err
	}
	if cnn, err = h.cnnToSeq.Forward(tp, cnn); err != nil {
		return nil, nil, err
	}

	patches, err := h.patches.Forward(tp, x)
	if err != nil {
		return nil, nil, err
	}
	if patches, err = h.encoder.Forward(tp, patches); err != nil {
		return nil, nil, err
	}

	cnnAttended, err := h.cross.Forward(tp, cnn, patches, patches)
	if err != nil {
		return nil, nil, err
	}
	patchAttended, err := h.cross.Forward(tp, patches, cnn, cnn)
	if err != nil {
		return nil, nil, err
	}
	logits, err := h.head.Forward(tp, cnnAttended, patchAttended)
	if err != nil {
		return nil, nil, err
	}
	var tapped *autograd.Var
	if tr != nil {
		tapped = tr.hit
	}
	return logits, tapped, nil
}

// Device names where tensors are computed. Only CPU is supported.
type Device string

const CPU Device = "cpu"

// Runtime pairs a loaded model with the device it runs on. It is passed
// explicitly to every inference and saliency call.
type Runtime struct {
	Device Device
	Model  *Hybrid
}

// NewRuntime places m on the CPU.
func NewRuntime(m *Hybrid) *Runtime {
	return &Runtime{Device: CPU, Model: m}
}

// Logits runs inference without recording gradients.
func (r *Runtime) Logits(ctx context.Context, img *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tp := autograd.NewTape(false)
	out, err := r.Model.Forward(tp, tp.Input(img))
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}
