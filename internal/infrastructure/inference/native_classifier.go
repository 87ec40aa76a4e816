package inference

import (
	"context"
	"fmt"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
	"lung-vision/internal/model"
	"lung-vision/internal/tensor"
)

// NativeClassifier runs the in-process hybrid model.
type NativeClassifier struct {
	rt *model.Runtime
}

// NewNativeClassifier rejects models whose class count differs from the label set.
func NewNativeClassifier(rt *model.Runtime) (*NativeClassifier, error) {
	if n := rt.Model.Architecture().Classes; n != len(entity.Labels) {
		return nil, fmt.Errorf("model has %d classes, want %d", n, len(entity.Labels))
	}
	return &NativeClassifier{rt: rt}, nil
}

func (c *NativeClassifier) Classify(ctx context.Context, img *tensor.Tensor) (*entity.Prediction, error) {
	logits, err := c.rt.Logits(ctx, img)
	if err != nil {
		return nil, err
	}
	return predictionFromLogits(logits.Row(0).Data)
}

func predictionFromLogits(logits []float64) (*entity.Prediction, error) {
	probs := tensor.Softmax(logits)
	for _, p := range probs {
		if p != p {
			return nil, fmt.Errorf("%w: non-finite logits", entity.ErrInvalidPrediction)
		}
	}
	return entity.NewPrediction(probs)
}

var _ port.Classifier = (*NativeClassifier)(nil)
