package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedBackbone = errors.New("unsupported backbone")
	ErrUnknownFeatureLayer = errors.New("unknown feature layer")
	ErrHeadsNotDivisible   = errors.New("embedding width is not divisible by head count")
	ErrInvalidArchitecture = errors.New("invalid architecture")
	ErrLayerNotFound       = errors.New("target layer not found")
	ErrWidthMismatch       = errors.New("sequence width does not match embedding width")
	ErrInvalidInput        = errors.New("invalid input image")
)

// BackboneKind names the residual CNN feature extractor.
type BackboneKind string

const (
	ResNet18 BackboneKind = "resnet18"
	ResNet50 BackboneKind = "resnet50"
)

// GateKind selects how the CNN features are gated.
type GateKind string

const (
	GateSE      GateKind = "se"
	GateSigmoid GateKind = "sigmoid"
)

// StageNames are the extraction points every backbone exposes, shallow first.
var StageNames = []string{"layer1", "layer2", "layer3", "layer4"}

type backboneSpec struct {
	blocks     [4]int
	widths     [4]int
	bottleneck bool
}

func (s backboneSpec) expansion() int {
	if s.bottleneck {
		return 4
	}
	return 1
}

func (s backboneSpec) stageChannels(stage int) int {
	return s.widths[stage] * s.expansion()
}

var backbones = map[BackboneKind]backboneSpec{
	ResNet18: {blocks: [4]int{2, 2, 2, 2}, widths: [4]int{64, 128, 256, 512}},
	ResNet50: {blocks: [4]int{3, 4, 6, 3}, widths: [4]int{64, 128, 256, 512}, bottleneck: true},
}

// Architecture is the construction-time shape of the hybrid network. A weight
// set must match it exactly.
type Architecture struct {
	Backbone       BackboneKind
	FeatureLayers  []string
	FusionSize     int
	Gate           GateKind
	GateReduction  int
	ModelDim       int
	Heads          int
	EncoderLayers  int
	FeedForwardDim int
	CrossLayers    int
	HiddenDim      int
	PatchSize      int
	ImageSize      int
	Dropout        float64
	MaxSequence    int
	Classes        int
}

// DefaultArchitecture matches the trained chest-image checkpoint.
func DefaultArchitecture() Architecture {
	return Architecture{
		Backbone:       ResNet50,
		FeatureLayers:  []string{"layer3", "layer4"},
		FusionSize:     7,
		Gate:           GateSE,
		GateReduction:  16,
		ModelDim:       512,
		Heads:          8,
		EncoderLayers:  6,
		FeedForwardDim: 2048,
		CrossLayers:    2,
		HiddenDim:      256,
		PatchSize:      16,
		ImageSize:      224,
		Dropout:        0.1,
		MaxSequence:    5000,
		Classes:        3,
	}
}

func (a Architecture) Validate() error {
	if _, ok := backbones[a.Backbone]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedBackbone, a.Backbone)
	}
	if len(a.FeatureLayers) == 0 {
		return fmt.Errorf("%w: no feature layers selected", ErrInvalidArchitecture)
	}
	seen := make(map[string]bool)
	for _, l := range a.FeatureLayers {
		if stageIndex(l) < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownFeatureLayer, l)
		}
		if seen[l] {
			return fmt.Errorf("%w: feature layer %q selected twice", ErrInvalidArchitecture, l)
		}
		seen[l] = true
	}
	if a.Heads <= 0 || a.ModelDim <= 0 || a.ModelDim%a.Heads != 0 {
		return fmt.Errorf("%w: width %d, heads %d", ErrHeadsNotDivisible, a.ModelDim, a.Heads)
	}
	if a.ModelDim%2 != 0 {
		return fmt.Errorf("%w: embedding width %d must be even for sinusoidal positions", ErrInvalidArchitecture, a.ModelDim)
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"fusion size", a.FusionSize},
		{"gate reduction", a.GateReduction},
		{"encoder layers", a.EncoderLayers},
		{"feed-forward dim", a.FeedForwardDim},
		{"cross layers", a.CrossLayers},
		{"hidden dim", a.HiddenDim},
		{"patch size", a.PatchSize},
		{"image size", a.ImageSize},
		{"max sequence", a.MaxSequence},
		{"classes", a.Classes},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidArchitecture, f.name, f.v)
		}
	}
	if a.Gate != GateSE && a.Gate != GateSigmoid {
		return fmt.Errorf("%w: gate %q", ErrInvalidArchitecture, a.Gate)
	}
	if a.ImageSize%a.PatchSize != 0 {
		return fmt.Errorf("%w: image size %d is not a multiple of patch size %d", ErrInvalidArchitecture, a.ImageSize, a.PatchSize)
	}
	if a.PatchCount() > a.MaxSequence {
		return fmt.Errorf("%w: %d patches exceed the positional table of %d", ErrInvalidArchitecture, a.PatchCount(), a.MaxSequence)
	}
	if a.Dropout < 0 || a.Dropout >= 1 {
		return fmt.Errorf("%w: dropout %v", ErrInvalidArchitecture, a.Dropout)
	}
	return nil
}

// FusedChannels is the channel count of the fused feature map: the sum over
// the selected stages, whatever their spatial sizes.
func (a Architecture) FusedChannels() int {
	spec := backbones[a.Backbone]
	total := 0
	for _, l := range a.FeatureLayers {
		if i := stageIndex(l); i >= 0 {
			total += spec.stageChannels(i)
		}
	}
	return total
}

// StageChannels reports the channel count of one backbone stage.
func (a Architecture) StageChannels(stage string) (int, error) {
	spec, ok := backbones[a.Backbone]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedBackbone, a.Backbone)
	}
	i := stageIndex(stage)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeatureLayer, stage)
	}
	return spec.stageChannels(i), nil
}

func (a Architecture) PatchCount() int {
	if a.PatchSize <= 0 {
		return 0
	}
	n := a.ImageSize / a.PatchSize
	return n * n
}

// GateWidth is the bottleneck width of the squeeze-excitation gate; never
// below one.
func (a Architecture) GateWidth() int {
	return max(a.FusedChannels()/max(a.GateReduction, 1), 1)
}

func stageIndex(name string) int {
	for i, s := range StageNames {
		if s == name {
			return i
		}
	}
	return -1
}
