package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lung-vision/internal/model"
	"lung-vision/internal/visualize"
)

var ErrInvalid = errors.New("invalid configuration")

// Backend selects the classifier implementation.
type Backend string

const (
	BackendNative Backend = "native"
	BackendONNX   Backend = "onnx"
)

// Config holds the service settings read from the environment.
type Config struct {
	HTTPAddr      string
	TelegramToken string

	Backend         Backend
	WeightsPath     string
	ONNXModelPath   string
	ONNXLibraryPath string
	Architecture    model.Architecture
	TopK            int

	EnableVisualization bool
	TargetLayer         string
	Visualization       visualize.Config
	StaticDir           string
	PublicPath          string
	MaxFiles            int
	MaxAge              time.Duration
}

// VisualizationDir is where overlay files are written and served from.
func (c *Config) VisualizationDir() string {
	return filepath.Join(c.StaticDir, "visualizations")
}

// Load reads .env when present, then the process environment, and reports
// every malformed value at once.
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	arch := model.DefaultArchitecture()
	cfg := &Config{
		HTTPAddr:        getString("HTTP_ADDR", ":8080"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		Backend:         Backend(strings.ToLower(getString("MODEL_BACKEND", string(BackendNative)))),
		WeightsPath:     os.Getenv("WEIGHTS_PATH"),
		ONNXModelPath:   os.Getenv("ONNX_MODEL_PATH"),
		ONNXLibraryPath: os.Getenv("ONNX_LIBRARY_PATH"),
		StaticDir:       getString("STATIC_DIR", "static"),
		PublicPath:      getString("VISUALIZATION_PUBLIC_PATH", "/static/visualizations"),
		TargetLayer:     getString("GRADCAM_TARGET_LAYER", "backbone.layer4"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	arch.Backbone = model.BackboneKind(strings.ToLower(getString("BACKBONE", string(arch.Backbone))))
	arch.FeatureLayers = getList("FEATURE_LAYERS", arch.FeatureLayers)
	arch.Gate = model.GateKind(strings.ToLower(getString("GATE_TYPE", string(arch.Gate))))

	var err error
	arch.ModelDim, err = getInt("MODEL_DIM", arch.ModelDim)
	collect(err)
	arch.Heads, err = getInt("NUM_HEADS", arch.Heads)
	collect(err)
	arch.EncoderLayers, err = getInt("NUM_LAYERS", arch.EncoderLayers)
	collect(err)
	cfg.Architecture = arch

	cfg.TopK, err = getInt("TOPK", 3)
	collect(err)
	cfg.EnableVisualization, err = getBool("ENABLE_VISUALIZATION", true)
	collect(err)

	viz := visualize.DefaultConfig()
	viz.ReturnType, err = visualize.ParseReturnType(getString("VISUALIZATION_RETURN_TYPE", string(viz.ReturnType)))
	collect(err)
	viz.Format = getString("VISUALIZATION_FORMAT", viz.Format)
	viz.MaxSize, err = getInt("VISUALIZATION_MAX_SIZE", viz.MaxSize)
	collect(err)
	viz.Alpha, err = getFloat("VISUALIZATION_OVERLAY_ALPHA", viz.Alpha)
	collect(err)
	viz.OutputDir = cfg.VisualizationDir()
	cfg.Visualization = viz

	cfg.MaxFiles, err = getInt("VISUALIZATION_MAX_FILES", 200)
	collect(err)
	hours, err := getInt("VISUALIZATION_MAX_AGE_HOURS", 24)
	collect(err)
	cfg.MaxAge = time.Duration(hours) * time.Hour

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNative:
	case BackendONNX:
		if c.ONNXModelPath == "" {
			return fmt.Errorf("%w: ONNX_MODEL_PATH is required for the onnx backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: MODEL_BACKEND %q", ErrInvalid, c.Backend)
	}
	if err := c.Architecture.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.TopK < 1 {
		return fmt.Errorf("%w: TOPK must be positive", ErrInvalid)
	}
	if !c.EnableVisualization {
		return nil
	}
	if _, err := c.Architecture.ResolveLayer(c.TargetLayer); err != nil {
		return fmt.Errorf("%w: GRADCAM_TARGET_LAYER: %v", ErrInvalid, err)
	}
	if err := c.Visualization.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.MaxFiles < 0 || c.MaxAge < 0 {
		return fmt.Errorf("%w: visualization retention must not be negative", ErrInvalid)
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
	}
	return f, nil
}

func getBool(key string, def bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return def, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, os.Getenv(key))
}

func getList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
