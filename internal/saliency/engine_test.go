package saliency

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"lung-vision/internal/model"
	"lung-vision/internal/tensor"
)

func smallArch() model.Architecture {
	a := model.DefaultArchitecture()
	a.Backbone = model.ResNet18
	a.FusionSize = 2
	a.ModelDim = 32
	a.Heads = 4
	a.EncoderLayers = 1
	a.FeedForwardDim = 64
	a.HiddenDim = 16
	a.ImageSize = 64
	a.MaxSequence = 64
	return a
}

func newRuntime(t *testing.T) *model.Runtime {
	t.Helper()
	m, err := model.NewRandom(smallArch(), 3)
	require.NoError(t, err)
	return model.NewRuntime(m)
}

func randomImage(seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	img := tensor.New(1, 3, 64, 64)
	for i := range img.Data {
		img.Data[i] = rng.NormFloat64()
	}
	return img
}

func requireMask(t *testing.T, mask *tensor.Tensor, h, w int) {
	t.Helper()
	require.Equal(t, []int{h, w}, mask.Shape)
	require.True(t, mask.Finite())
	lo, hi := mask.MinMax()
	require.GreaterOrEqual(t, lo, 0.0)
	require.LessOrEqual(t, hi, 1.0)
}

func TestNewEngine_UnknownLayer(t *testing.T) {
	_, err := NewEngine(model.DefaultArchitecture(), "nonexistent.layer")
	require.ErrorIs(t, err, model.ErrLayerNotFound)

	e, err := NewEngine(model.DefaultArchitecture(), "backbone.layer4")
	require.NoError(t, err)
	require.Equal(t, "backbone.layer4", e.Layer())
}

func TestGenerate_MaskBoundsAndSize(t *testing.T) {
	rt := newRuntime(t)
	for _, layer := range []string{"backbone.layer4", "backbone.layer2.1", "gate_mechanism"} {
		e, err := NewEngine(rt.Model.Architecture(), layer)
		require.NoError(t, err)

		mask, c, err := e.Generate(context.Background(), rt, randomImage(1), TopClass)
		require.NoError(t, err, layer)
		requireMask(t, mask, 64, 64)
		require.Equal(t, tensor.Argmax(c.Logits), c.Class)
		require.Equal(t, c.Activation.Shape, c.Gradient.Shape)
	}
}

func TestGenerate_UniformInputIsFinite(t *testing.T) {
	rt := newRuntime(t)
	e, err := NewEngine(rt.Model.Architecture(), "backbone.layer4")
	require.NoError(t, err)

	mask, _, err := e.Generate(context.Background(), rt, tensor.New(1, 3, 64, 64), TopClass)
	require.NoError(t, err)
	requireMask(t, mask, 64, 64)
}

func TestGenerate_ExplicitClass(t *testing.T) {
	rt := newRuntime(t)
	e, err := NewEngine(rt.Model.Architecture(), "backbone.layer4")
	require.NoError(t, err)

	_, c, err := e.Generate(context.Background(), rt, randomImage(2), 2)
	require.NoError(t, err)
	require.Equal(t, 2, c.Class)

	_, _, err = e.Generate(context.Background(), rt, randomImage(2), 3)
	require.ErrorIs(t, err, ErrInvalidClass)
}

func TestGenerate_DeterministicAcrossEngines(t *testing.T) {
	rt := newRuntime(t)
	img := randomImage(5)
	var masks [2]*tensor.Tensor
	for i := range masks {
		e, err := NewEngine(rt.Model.Architecture(), "backbone.layer4")
		require.NoError(t, err)
		masks[i], _, err = e.Generate(context.Background(), rt, img, TopClass)
		require.NoError(t, err)
	}
	require.Equal(t, masks[0].Data, masks[1].Data)
}

func TestGenerate_ConcurrentCallsDoNotMix(t *testing.T) {
	rt := newRuntime(t)
	e, err := NewEngine(rt.Model.Architecture(), "backbone.layer3")
	require.NoError(t, err)

	imgs := []*tensor.Tensor{randomImage(10), randomImage(11), randomImage(12)}
	want := make([]*tensor.Tensor, len(imgs))
	for i, img := range imgs {
		want[i], _, err = e.Generate(context.Background(), rt, img, TopClass)
		require.NoError(t, err)
	}

	got := make([]*tensor.Tensor, len(imgs))
	errs := make([]error, len(imgs))
	var wg sync.WaitGroup
	for i, img := range imgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _, errs[i] = e.Generate(context.Background(), rt, img, TopClass)
		}()
	}
	wg.Wait()
	for i := range imgs {
		require.NoError(t, errs[i])
		require.Equal(t, want[i].Data, got[i].Data)
	}
}

func TestGenerate_RejectsBatches(t *testing.T) {
	rt := newRuntime(t)
	e, err := NewEngine(rt.Model.Architecture(), "backbone.layer4")
	require.NoError(t, err)

	_, _, err = e.Generate(context.Background(), rt, tensor.New(2, 3, 64, 64), TopClass)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, _, err = e.Generate(context.Background(), rt, tensor.New(1, 1, 64, 64), TopClass)
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestGenerate_LayerMissingFromRuntime(t *testing.T) {
	rt := newRuntime(t)
	e, err := NewEngine(model.DefaultArchitecture(), "backbone.layer3.5")
	require.NoError(t, err)

	_, _, err = e.Generate(context.Background(), rt, randomImage(1), TopClass)
	require.ErrorIs(t, err, model.ErrLayerNotFound)
}

func TestMask(t *testing.T) {
	act, _ := tensor.FromData([]float64{
		1, 2, 3, 4,
		4, 3, 2, 1,
	}, 1, 2, 2, 2)
	grad, _ := tensor.FromData([]float64{
		1, 1, 1, 1,
		-1, -1, -1, -1,
	}, 1, 2, 2, 2)
	mask, err := Mask(Capture{Activation: act, Gradient: grad}, 2, 2)
	require.NoError(t, err)
	// cam = relu(a0 - a1) = [0 0 1 3]
	require.InDeltaSlice(t, []float64{0, 0, 1.0 / 3, 1}, mask.Data, 1e-6)

	flat, err := Mask(Capture{Activation: tensor.New(1, 2, 2, 2), Gradient: tensor.New(1, 2, 2, 2)}, 8, 8)
	require.NoError(t, err)
	requireMask(t, flat, 8, 8)

	_, err = Mask(Capture{}, 4, 4)
	require.ErrorIs(t, err, ErrCaptureIncomplete)
}

func TestGenerate_BypassedLayerIsIncomplete(t *testing.T) {
	a := smallArch()
	a.FeatureLayers = []string{"layer2"}
	m, err := model.NewRandom(a, 3)
	require.NoError(t, err)
	rt := model.NewRuntime(m)

	// layer4 is computed but never reaches the logits.
	e, err := NewEngine(a, "backbone.layer4")
	require.NoError(t, err)
	_, _, err = e.Generate(context.Background(), rt, randomImage(1), TopClass)
	require.ErrorIs(t, err, ErrCaptureIncomplete)

	e, err = NewEngine(a, "backbone.layer2")
	require.NoError(t, err)
	mask, _, err := e.Generate(context.Background(), rt, randomImage(1), TopClass)
	require.NoError(t, err)
	requireMask(t, mask, 64, 64)
}

func TestMask_InfiniteScoreSaturates(t *testing.T) {
	act, _ := tensor.FromData([]float64{0, 1, 2, math.Inf(1)}, 1, 1, 1, 4)
	grad, _ := tensor.FromData([]float64{1, 1, 1, 1}, 1, 1, 1, 4)
	mask, err := Mask(Capture{Activation: act, Gradient: grad}, 1, 4)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0, 0.5, 1, 1}, mask.Data, 1e-6)

	act, _ = tensor.FromData([]float64{math.Inf(1), 0}, 1, 1, 1, 2)
	grad, _ = tensor.FromData([]float64{1, 1}, 1, 1, 1, 2)
	mask, err = Mask(Capture{Activation: act, Gradient: grad}, 1, 2)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1, 0}, mask.Data, 1e-6)
}
