package model

import (
	"lung-vision/internal/autograd"
)

// Head mean-pools both refined sequences and maps their concatenation to
// class logits. The last layer has no activation.
type Head struct {
	fc1     *Linear
	fc2     *Linear
	dropout float64
}

func newHead(src Source, arch Architecture) (*Head, error) {
	fc1, err := newLinear(src, "classifier.classifier.0", 2*arch.ModelDim, arch.HiddenDim)
	if err != nil {
		return nil, err
	}
	fc2, err := newLinear(src, "classifier.classifier.3", arch.HiddenDim, arch.Classes)
	if err != nil {
		return nil, err
	}
	return &Head{fc1: fc1, fc2: fc2, dropout: arch.Dropout}, nil
}

func (h *Head) Forward(tp *autograd.Tape, cnn, patches *autograd.Var) (*autograd.Var, error) {
	a, err := tp.MeanSeq(cnn)
	if err != nil {
		return nil, err
	}
	b, err := tp.MeanSeq(patches)
	if err != nil {
		return nil, err
	}
	x, err := tp.Concat(a, b)
	if err != nil {
		return nil, err
	}
	if x, err = h.fc1.Forward(tp, x); err != nil {
		return nil, err
	}
	return h.fc2.Forward(tp, tp.Dropout(tp.ReLU(x), h.dropout))
}
