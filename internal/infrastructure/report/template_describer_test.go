package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lung-vision/internal/domain/entity"
)

func TestTemplateDescriber_Describe(t *testing.T) {
	p, err := entity.NewPrediction([]float64{0.1, 0.75, 0.15})
	require.NoError(t, err)
	d := &entity.Diagnosis{Filename: "scan.png", Prediction: p, TopK: p.TopK(2)}

	r, err := NewTemplateDescriber().Describe(context.Background(), d)
	require.NoError(t, err)
	require.Contains(t, r.Text, "(scan.png)")
	require.Contains(t, r.Text, "- malignant: 75.0%")
	require.Contains(t, r.Text, "- benign: 15.0%")
	require.NotContains(t, r.Text, "- normal:")
	require.Contains(t, r.Text, Explanations[entity.LabelMalignant])
	require.NotContains(t, r.Text, "heatmap overlay")

	d.Visualization = &entity.VisualizationArtifact{DataURL: "data:image/png;base64,AA=="}
	r, err = NewTemplateDescriber().Describe(context.Background(), d)
	require.NoError(t, err)
	require.Contains(t, r.Text, "heatmap overlay")
}

func TestTemplateDescriber_RejectsEmpty(t *testing.T) {
	_, err := NewTemplateDescriber().Describe(context.Background(), &entity.Diagnosis{})
	require.ErrorIs(t, err, entity.ErrInvalidPrediction)
}
