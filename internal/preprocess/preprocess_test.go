package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocess_ShapeAndNormalisation(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 300; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	out, err := p.Preprocess(encodePNG(t, img))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 224, 224}, out.Shape)

	plane := 224 * 224
	require.InDelta(t, (1-0.485)/0.229, out.Data[0], 0.05)
	require.InDelta(t, (0-0.456)/0.224, out.Data[plane], 0.05)
	require.InDelta(t, (128.0/255-0.406)/0.225, out.Data[2*plane+plane/2], 0.05)
}

func TestPreprocess_SmallAndWideImages(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	for _, r := range []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(0, 0, 900, 120)} {
		out, err := p.Preprocess(encodePNG(t, image.NewGray(r)))
		require.NoError(t, err)
		require.Equal(t, []int{1, 3, 224, 224}, out.Shape)
	}
}

func TestPreprocess_RejectsGarbage(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = p.Preprocess([]byte("definitely not an image"))
	require.ErrorIs(t, err, ErrDecode)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResizeTo = 100
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Std[1] = 0
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
