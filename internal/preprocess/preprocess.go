// Package preprocess converts uploaded image bytes into normalised model
// input: shorter side resized, centre crop, per-channel mean/std, CHW.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"lung-vision/internal/tensor"
)

var (
	ErrDecode        = errors.New("preprocess: unsupported or corrupt image")
	ErrInvalidConfig = errors.New("preprocess: invalid config")
)

// Config sets the resize, crop and per-channel normalization.
type Config struct {
	ResizeTo int
	CropSize int
	Mean     [3]float64
	Std      [3]float64
}

// DefaultConfig is the ImageNet preprocessing the classifier was trained
// with.
func DefaultConfig() Config {
	return Config{
		ResizeTo: 256,
		CropSize: 224,
		Mean:     [3]float64{0.485, 0.456, 0.406},
		Std:      [3]float64{0.229, 0.224, 0.225},
	}
}

// Preprocessor turns decoded images into normalized [1, 3, H, W] tensors.
type Preprocessor struct {
	cfg Config
}

// New validates cfg and returns a Preprocessor.
func New(cfg Config) (*Preprocessor, error) {
	if cfg.CropSize <= 0 || cfg.ResizeTo < cfg.CropSize {
		return nil, fmt.Errorf("%w: resize %d, crop %d", ErrInvalidConfig, cfg.ResizeTo, cfg.CropSize)
	}
	for _, s := range cfg.Std {
		if s <= 0 {
			return nil, fmt.Errorf("%w: std %v", ErrInvalidConfig, cfg.Std)
		}
	}
	return &Preprocessor{cfg: cfg}, nil
}

func (p *Preprocessor) CropSize() int { return p.cfg.CropSize }

// Decode parses JPEG, PNG, GIF, BMP, TIFF or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, format, nil
}

// Preprocess decodes data and returns a [1, 3, crop, crop] tensor.
func (p *Preprocessor) Preprocess(data []byte) (*tensor.Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.FromImage(img), nil
}

// FromImage resizes img so its shorter side is ResizeTo, crops the centre
// and normalises each channel.
func (p *Preprocessor) FromImage(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rw, rh := p.cfg.ResizeTo, p.cfg.ResizeTo
	if w < h {
		rh = max(int(float64(p.cfg.ResizeTo)*float64(h)/float64(w)), p.cfg.ResizeTo)
	} else {
		rw = max(int(float64(p.cfg.ResizeTo)*float64(w)/float64(h)), p.cfg.ResizeTo)
	}
	resized := resize.Resize(uint(rw), uint(rh), img, resize.Bilinear)

	s := p.cfg.CropSize
	rb := resized.Bounds()
	top := rb.Min.Y + int(math.Round(float64(rb.Dy()-s)/2))
	left := rb.Min.X + int(math.Round(float64(rb.Dx()-s)/2))

	out := tensor.New(1, 3, s, s)
	plane := s * s
	for y := 0; y < s; y++ {
		for x := 0; x < s; x++ {
			r, g, bl, _ := resized.At(left+x, top+y).RGBA()
			i := y*s + x
			for c, v := range [3]uint32{r, g, bl} {
				unit := float64(v>>8) / 255
				out.Data[c*plane+i] = (unit - p.cfg.Mean[c]) / p.cfg.Std[c]
			}
		}
	}
	return out
}
