package port

import (
	"context"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/tensor"
)

// Preprocessor turns encoded image bytes into a model input batch
// [1, 3, S, S].
type Preprocessor interface {
	Preprocess(data []byte) (*tensor.Tensor, error)
}

// Classifier predicts the class distribution of a preprocessed image.
type Classifier interface {
	Classify(ctx context.Context, img *tensor.Tensor) (*entity.Prediction, error)
}

// Explainer renders a saliency overlay for one class of a preprocessed
// image. name is a stem for any file it writes.
type Explainer interface {
	Explain(ctx context.Context, img *tensor.Tensor, class int, name string) (*entity.VisualizationArtifact, error)
}
