package model

import (
	"fmt"

	"lung-vision/internal/autograd"
)

// Extractor taps selected backbone stages and fuses them into one map.
type Extractor struct {
	backbone *Backbone
	stages   []int
	size     int
	reg      *registry
}

func newExtractor(b *Backbone, arch Architecture, reg *registry) *Extractor {
	e := &Extractor{backbone: b, size: arch.FusionSize, reg: reg}
	for _, l := range arch.FeatureLayers {
		e.stages = append(e.stages, stageIndex(l))
	}
	return e
}

func (e *Extractor) deepest() int {
	last := 0
	for _, s := range e.stages {
		last = max(last, s)
	}
	return last
}

// Forward runs the backbone and returns the fused [B, ΣC, size, size] map.
// The backbone runs at least to the deepest selected stage and further when
// the trace targets a later stage.
func (e *Extractor) Forward(tp *autograd.Tape, x *autograd.Var, tr *trace) (*autograd.Var, error) {
	last := e.deepest()
	if tr != nil {
		if s := e.reg.stageOf(tr.target); s > last && s < 4 {
			last = s
		}
	}
	feats, err := e.backbone.Forward(tp, x, last, tr)
	if err != nil {
		return nil, err
	}
	selected := make([]*autograd.Var, len(e.stages))
	for i, s := range e.stages {
		selected[i] = feats[s]
	}
	fused, err := Fuse(tp, selected, e.size)
	if err != nil {
		return nil, err
	}
	tr.mark(e.reg.fusion, fused)
	return fused, nil
}

// Fuse bilinearly resamples every feature map to size×size and concatenates
// them along channels. Maps are resampled rather than cropped, so stages of
// any spatial size combine.
func Fuse(tp *autograd.Tape, feats []*autograd.Var, size int) (*autograd.Var, error) {
	resized := make([]*autograd.Var, len(feats))
	for i, f := range feats {
		r, err := tp.Resize(f, size, size)
		if err != nil {
			return nil, fmt.Errorf("fuse feature %d: %w", i, err)
		}
		resized[i] = r
	}
	return tp.Concat(resized...)
}
