package visualize

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"lung-vision/internal/tensor"
)

const epsilon = 1e-8

// NormalizeImage maps an image tensor of any range to an RGB picture by
// per-image min-max scaling. Accepted shapes are [1, C, H, W] and [C, H, W]
// with C of 1 or 3; one channel is repeated.
func NormalizeImage(t *tensor.Tensor) (*image.RGBA, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrInvalidImage)
	}
	shape := t.Shape
	if len(shape) == 4 {
		if shape[0] < 1 {
			return nil, fmt.Errorf("%w: empty batch", ErrInvalidImage)
		}
		shape = shape[1:]
	}
	if len(shape) != 3 || (shape[0] != 1 && shape[0] != 3) || shape[1] < 1 || shape[2] < 1 {
		return nil, fmt.Errorf("%w: shape %v", ErrInvalidImage, t.Shape)
	}
	c, h, w := shape[0], shape[1], shape[2]
	plane := h * w
	data := t.Data[:c*plane]

	lo, hi := data[0], data[0]
	for _, v := range data {
		lo, hi = min(lo, v), max(hi, v)
	}
	scale := 1 / (hi - lo + epsilon)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < plane; i++ {
		var px [3]uint8
		for k := range px {
			src := k
			if c == 1 {
				src = 0
			}
			px[k] = unit8((data[src*plane+i] - lo) * scale)
		}
		img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = px[0], px[1], px[2], 255
	}
	return img, nil
}

func unit8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

// thumbnail shrinks img so that neither side exceeds limit, keeping the
// aspect ratio. Smaller images are returned unchanged.
func thumbnail(img *image.RGBA, limit int) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max(w, h) <= limit {
		return img, nil
	}
	if w >= h {
		h = max(h*limit/w, 1)
		w = limit
	} else {
		w = max(w*limit/h, 1)
		h = limit
	}
	return resizeRGBA(img, w, h)
}

// Ramp maps m in [0, 1] onto the blue-green-red heatmap:
// r = 1.5-|4m-3|, g = 1.5-|4m-2|, b = 1.5-|4m-1|, each clipped to [0, 1].
func Ramp(m float64) colorful.Color {
	if !(m > 0) {
		m = 0
	}
	m = min(m, 1)
	tri := func(c float64) float64 {
		d := 4*m - c
		if d < 0 {
			d = -d
		}
		return 1.5 - d
	}
	return colorful.Color{R: tri(3), G: tri(2), B: tri(1)}.Clamped()
}

// Colorize renders an [H, W] mask through Ramp.
func Colorize(mask *tensor.Tensor) (*image.RGBA, error) {
	if mask == nil || mask.Dims() != 2 || mask.Shape[0] < 1 || mask.Shape[1] < 1 {
		return nil, fmt.Errorf("%w: mask must be [H W]", ErrInvalidImage)
	}
	h, w := mask.Shape[0], mask.Shape[1]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := Ramp(mask.Data[y*w+x]).RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img, nil
}

// DataURL wraps encoded image bytes as data:image/<format>;base64,...
func DataURL(format string, raw []byte) string {
	return "data:image/" + strings.ToLower(format) + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// DataURLBytes returns the encoded payload of an image data URL and its
// format.
func DataURLBytes(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:image/")
	if !ok {
		return nil, "", fmt.Errorf("%w: not an image data URL", ErrInvalidImage)
	}
	format, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", fmt.Errorf("%w: data URL is not base64", ErrInvalidImage)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return raw, format, nil
}

// DecodeDataURL parses a base64 image data URL back into an image.
func DecodeDataURL(s string) (image.Image, string, error) {
	raw, _, err := DataURLBytes(s)
	if err != nil {
		return nil, "", err
	}
	return image.Decode(bytes.NewReader(raw))
}
