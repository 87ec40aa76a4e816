package model

import (
	"lung-vision/internal/autograd"
)

// Gate reweights the channels of a feature map by scores in [0, 1] computed
// from its global average.
type Gate struct {
	kind    GateKind
	reduce  *Linear
	expand  *Linear
	project *Linear
}

func newGate(src Source, arch Architecture) (*Gate, error) {
	c := arch.FusedChannels()
	g := &Gate{kind: arch.Gate}
	var err error
	if arch.Gate == GateSigmoid {
		if g.project, err = newLinear(src, "gate_mechanism.gate_linear", c, c); err != nil {
			return nil, err
		}
		return g, nil
	}
	if g.reduce, err = newLinear(src, "gate_mechanism.excitation.0", c, arch.GateWidth()); err != nil {
		return nil, err
	}
	if g.expand, err = newLinear(src, "gate_mechanism.excitation.2", arch.GateWidth(), c); err != nil {
		return nil, err
	}
	return g, nil
}

// Scores returns the [B, C] channel weights for x [B, C, H, W].
func (g *Gate) Scores(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	s, err := tp.MeanSpatial(x)
	if err != nil {
		return nil, err
	}
	if g.kind == GateSigmoid {
		if s, err = g.project.Forward(tp, s); err != nil {
			return nil, err
		}
		return tp.Sigmoid(s), nil
	}
	if s, err = g.reduce.Forward(tp, s); err != nil {
		return nil, err
	}
	if s, err = g.expand.Forward(tp, tp.ReLU(s)); err != nil {
		return nil, err
	}
	return tp.Sigmoid(s), nil
}

// Forward scales x channel-wise; the shape is unchanged.
func (g *Gate) Forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	s, err := g.Scores(tp, x)
	if err != nil {
		return nil, err
	}
	return tp.ScaleChannels(x, s)
}
