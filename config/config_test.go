package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lung-vision/internal/model"
	"lung-vision/internal/visualize"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"HTTP_ADDR", "MODEL_BACKEND", "BACKBONE", "FEATURE_LAYERS", "TOPK", "ENABLE_VISUALIZATION", "VISUALIZATION_RETURN_TYPE", "STATIC_DIR", "GRADCAM_TARGET_LAYER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, BackendNative, cfg.Backend)
	require.Equal(t, model.DefaultArchitecture(), cfg.Architecture)
	require.Equal(t, 3, cfg.TopK)
	require.True(t, cfg.EnableVisualization)
	require.Equal(t, "backbone.layer4", cfg.TargetLayer)
	require.Equal(t, visualize.ReturnFile, cfg.Visualization.ReturnType)
	require.Equal(t, filepath.Join("static", "visualizations"), cfg.Visualization.OutputDir)
	require.Equal(t, 24*time.Hour, cfg.MaxAge)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MODEL_BACKEND", "ONNX")
	t.Setenv("ONNX_MODEL_PATH", "/models/hybrid.onnx")
	t.Setenv("BACKBONE", "resnet18")
	t.Setenv("FEATURE_LAYERS", "layer2, layer4")
	t.Setenv("GATE_TYPE", "sigmoid")
	t.Setenv("MODEL_DIM", "256")
	t.Setenv("NUM_HEADS", "4")
	t.Setenv("ENABLE_VISUALIZATION", "no")
	t.Setenv("VISUALIZATION_RETURN_TYPE", "inline")
	t.Setenv("VISUALIZATION_OVERLAY_ALPHA", "0.3")
	t.Setenv("STATIC_DIR", "/srv/static")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendONNX, cfg.Backend)
	require.Equal(t, model.ResNet18, cfg.Architecture.Backbone)
	require.Equal(t, []string{"layer2", "layer4"}, cfg.Architecture.FeatureLayers)
	require.Equal(t, model.GateSigmoid, cfg.Architecture.Gate)
	require.Equal(t, 256, cfg.Architecture.ModelDim)
	require.Equal(t, 4, cfg.Architecture.Heads)
	require.False(t, cfg.EnableVisualization)
	require.Equal(t, visualize.ReturnDataURL, cfg.Visualization.ReturnType)
	require.InDelta(t, 0.3, cfg.Visualization.Alpha, 1e-12)
	require.Equal(t, "/srv/static/visualizations", cfg.VisualizationDir())
	require.NoError(t, cfg.Validate())
}

func TestLoad_ParseErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MODEL_DIM", "wide")
	t.Setenv("ENABLE_VISUALIZATION", "maybe")

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorContains(t, err, "MODEL_DIM")
	require.ErrorContains(t, err, "ENABLE_VISUALIZATION")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	cfg := *base
	cfg.Backend = "tflite"
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = *base
	cfg.Backend = BackendONNX
	cfg.ONNXModelPath = ""
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = *base
	cfg.Architecture.Heads = 7
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = *base
	cfg.TargetLayer = "backbone.layer9"
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.EnableVisualization = false
	require.NoError(t, cfg.Validate())
}
