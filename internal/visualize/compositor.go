// Package visualize composites a saliency mask over the image it explains and
// encodes the result as an inline data URL or a file.
package visualize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"lung-vision/internal/tensor"
)

// ReturnType selects how overlays are delivered.
type ReturnType string

const (
	ReturnDataURL ReturnType = "data_url"
	ReturnFile    ReturnType = "file"
)

var (
	ErrInvalidConfig = errors.New("visualize: invalid config")
	ErrInvalidImage  = errors.New("visualize: invalid image tensor")
)

// Config controls overlay encoding and delivery.
type Config struct {
	ReturnType ReturnType
	OutputDir  string
	Format     string
	Alpha      float64
	MaxSize    int
}

// DefaultConfig writes PNG files capped at 512 pixels with alpha 0.45.
func DefaultConfig() Config {
	return Config{
		ReturnType: ReturnFile,
		OutputDir:  "static/visualizations",
		Format:     "png",
		Alpha:      0.45,
		MaxSize:    512,
	}
}

// ParseReturnType accepts "file" and the inline spellings "data_url",
// "inline" and "base64".
func ParseReturnType(s string) (ReturnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file":
		return ReturnFile, nil
	case "data_url", "dataurl", "inline", "base64":
		return ReturnDataURL, nil
	}
	return "", fmt.Errorf("%w: return type %q", ErrInvalidConfig, s)
}

// Validate reports the first invalid field wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if c.ReturnType != ReturnDataURL && c.ReturnType != ReturnFile {
		return fmt.Errorf("%w: return type %q", ErrInvalidConfig, c.ReturnType)
	}
	if c.ReturnType == ReturnFile && c.OutputDir == "" {
		return fmt.Errorf("%w: file output needs a directory", ErrInvalidConfig)
	}
	if _, err := normalizeFormat(c.Format); err != nil {
		return err
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside [0, 1]", ErrInvalidConfig, c.Alpha)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max size %d", ErrInvalidConfig, c.MaxSize)
	}
	return nil
}

func normalizeFormat(f string) (string, error) {
	switch strings.ToLower(f) {
	case "png":
		return "png", nil
	case "jpeg", "jpg":
		return "jpeg", nil
	}
	return "", fmt.Errorf("%w: image format %q", ErrInvalidConfig, f)
}

// Artifact is an encoded overlay. Exactly one of DataURL and Path is set.
type Artifact struct {
	DataURL string
	Path    string
	Width   int
	Height  int
}

// Compositor blends saliency masks onto source images.
type Compositor struct {
	cfg    Config
	format string
}

// NewCompositor validates cfg and returns a Compositor.
func NewCompositor(cfg Config) (*Compositor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, _ := normalizeFormat(cfg.Format)
	return &Compositor{cfg: cfg, format: format}, nil
}

func (c *Compositor) Config() Config { return c.cfg }

// Overlay renders img (the preprocessed model input) with mask blended on top.
func (c *Compositor) Overlay(img, mask *tensor.Tensor) (*image.RGBA, error) {
	base, err := NormalizeImage(img)
	if err != nil {
		return nil, err
	}
	if base, err = thumbnail(base, c.cfg.MaxSize); err != nil {
		return nil, err
	}
	heat, err := Colorize(mask)
	if err != nil {
		return nil, err
	}
	b := base.Bounds()
	if heat, err = resizeRGBA(heat, b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	return blend(base, heat, c.cfg.Alpha)
}

// Encode writes an overlay in the configured form. name is the file stem used
// in file mode.
func (c *Compositor) Encode(img image.Image, name string) (Artifact, error) {
	raw, err := c.encodeBytes(img)
	if err != nil {
		return Artifact{}, err
	}
	a := Artifact{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	if c.cfg.ReturnType == ReturnDataURL {
		a.DataURL = DataURL(c.format, raw)
		return a, nil
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output dir: %w", err)
	}
	a.Path = filepath.Join(c.cfg.OutputDir, name+"."+c.Extension())
	if err := os.WriteFile(a.Path, raw, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write overlay: %w", err)
	}
	return a, nil
}

// Extension is the file extension of the configured format.
func (c *Compositor) Extension() string {
	if c.format == "jpeg" {
		return "jpg"
	}
	return c.format
}

func (c *Compositor) encodeBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if c.format == "jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.format, err)
	}
	return buf.Bytes(), nil
}

// Compose runs Overlay then Encode.
func (c *Compositor) Compose(img, mask *tensor.Tensor, name string) (Artifact, error) {
	overlay, err := c.Overlay(img, mask)
	if err != nil {
		return Artifact{}, err
	}
	return c.Encode(overlay, name)
}
