package model

import (
	"fmt"

	"lung-vision/internal/autograd"
)

// LayerID identifies an addressable feature map of a built network.
type LayerID int

// NoLayer taps nothing.
const NoLayer LayerID = -1

const (
	layerFusion = "extractor.fusion"
	layerGate   = "gate_mechanism"
)

// Layers lists every addressable 4-D feature map in forward order.
func (a Architecture) Layers() []string {
	spec, ok := backbones[a.Backbone]
	if !ok {
		return nil
	}
	names := []string{"backbone.conv1", "backbone.bn1", "backbone.relu", "backbone.maxpool"}
	for s, stage := range StageNames {
		names = append(names, "backbone."+stage)
		for i := 0; i < spec.blocks[s]; i++ {
			names = append(names, fmt.Sprintf("backbone.%s.%d", stage, i))
		}
	}
	return append(names, layerFusion, layerGate)
}

// ResolveLayer maps a dotted layer name to its id by exact match.
func (a Architecture) ResolveLayer(name string) (LayerID, error) {
	for i, n := range a.Layers() {
		if n == name {
			return LayerID(i), nil
		}
	}
	return NoLayer, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
}

// registry holds the ids the forward pass marks, resolved once at build time.
type registry struct {
	names   []string
	conv1   LayerID
	bn1     LayerID
	relu    LayerID
	maxpool LayerID
	stages  [4]LayerID
	blocks  [4][]LayerID
	fusion  LayerID
	gate    LayerID
}

func newRegistry(a Architecture) (*registry, error) {
	r := &registry{names: a.Layers()}
	resolve := func(name string) LayerID {
		id, err := a.ResolveLayer(name)
		if err != nil {
			return NoLayer
		}
		return id
	}
	r.conv1, r.bn1 = resolve("backbone.conv1"), resolve("backbone.bn1")
	r.relu, r.maxpool = resolve("backbone.relu"), resolve("backbone.maxpool")
	spec := backbones[a.Backbone]
	for s, stage := range StageNames {
		r.stages[s] = resolve("backbone." + stage)
		for i := 0; i < spec.blocks[s]; i++ {
			r.blocks[s] = append(r.blocks[s], resolve(fmt.Sprintf("backbone.%s.%d", stage, i)))
		}
	}
	r.fusion, r.gate = resolve(layerFusion), resolve(layerGate)
	for i, id := range r.all() {
		if id == NoLayer {
			return nil, fmt.Errorf("%w: registry entry %d unresolved", ErrInvalidArchitecture, i)
		}
	}
	return r, nil
}

func (r *registry) all() []LayerID {
	ids := []LayerID{r.conv1, r.bn1, r.relu, r.maxpool, r.fusion, r.gate}
	ids = append(ids, r.stages[:]...)
	for _, b := range r.blocks {
		ids = append(ids, b...)
	}
	return ids
}

// stageOf returns the deepest backbone stage a layer lives in, or -1 for the
// stem, or 4 for layers after the backbone.
func (r *registry) stageOf(id LayerID) int {
	if id == NoLayer {
		return -1
	}
	if id == r.fusion || id == r.gate {
		return 4
	}
	for s := 3; s >= 0; s-- {
		if id >= r.stages[s] {
			return s
		}
	}
	return -1
}

// trace records the value produced at one target layer during a forward pass.
type trace struct {
	target LayerID
	hit    *autograd.Var
}

func (t *trace) mark(id LayerID, v *autograd.Var) {
	if t != nil && t.target == id {
		t.hit = v
	}
}
