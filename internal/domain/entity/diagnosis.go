package entity

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Label is one of the three diagnostic classes.
type Label string

const (
	LabelNormal    Label = "normal"
	LabelMalignant Label = "malignant"
	LabelBenign    Label = "benign"
)

// Labels is the fixed class order of the model output.
var Labels = []Label{LabelNormal, LabelMalignant, LabelBenign}

var ErrInvalidPrediction = errors.New("invalid prediction")

// LabelScore pairs a label with its probability.
type LabelScore struct {
	Label Label   `json:"label"`
	Prob  float64 `json:"prob"`
}

// Prediction is the class distribution for one image.
type Prediction struct {
	Probabilities []float64 // in Labels order
}

// NewPrediction checks that probs has one entry per label.
func NewPrediction(probs []float64) (*Prediction, error) {
	if len(probs) != len(Labels) {
		return nil, fmt.Errorf("%w: %d probabilities for %d labels", ErrInvalidPrediction, len(probs), len(Labels))
	}
	return &Prediction{Probabilities: append([]float64(nil), probs...)}, nil
}

// Top returns the most probable label; ties go to the earlier label.
func (p *Prediction) Top() LabelScore {
	return p.TopK(1)[0]
}

// TopK returns the k most probable labels, highest first. k is clamped to
// [1, len(Labels)].
func (p *Prediction) TopK(k int) []LabelScore {
	k = min(max(k, 1), len(Labels))
	all := make([]LabelScore, len(Labels))
	for i, l := range Labels {
		all[i] = LabelScore{Label: l, Prob: p.Probabilities[i]}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Prob > all[j].Prob })
	return all[:k]
}

// ByLabel returns the probabilities keyed by label name.
func (p *Prediction) ByLabel() map[Label]float64 {
	out := make(map[Label]float64, len(Labels))
	for i, l := range Labels {
		out[l] = p.Probabilities[i]
	}
	return out
}

// Diagnosis is one processed image: the prediction, its optional overlay and
// the findings text.
type Diagnosis struct {
	ID            string
	Filename      string
	CreatedAt     time.Time
	Prediction    *Prediction
	TopK          []LabelScore
	Visualization *VisualizationArtifact
	Report        *Report
}

// Report is the findings text built for a diagnosis.
type Report struct {
	Text string
}
