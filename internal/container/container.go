package container

import (
	"fmt"
	"log"

	"lung-vision/config"
	app "lung-vision/internal/application"
	"lung-vision/internal/domain/port"
	"lung-vision/internal/infrastructure/inference"
	"lung-vision/internal/infrastructure/report"
	"lung-vision/internal/infrastructure/storage"
	"lung-vision/internal/infrastructure/vision"
	"lung-vision/internal/model"
	"lung-vision/internal/preprocess"
	"lung-vision/internal/visualize"
)

// randomSeed initialises the native model when no checkpoint is configured.
const randomSeed = 42

// Container holds the wired application services.
type Container struct {
	UserService      *app.UserService
	DiagnosisService *app.DiagnosisService

	closers []func()
}

// New builds every dependency described by cfg. Call Close when done.
func New(cfg *config.Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	pre, err := newPreprocessor(cfg.Architecture.ImageSize)
	if err != nil {
		return nil, err
	}

	var rt *model.Runtime
	if cfg.Backend == config.BackendNative || cfg.EnableVisualization {
		if rt, err = loadRuntime(cfg); err != nil {
			return nil, err
		}
	}

	classifier, err := c.newClassifier(cfg, rt)
	if err != nil {
		return nil, err
	}

	var explainer port.Explainer
	if cfg.EnableVisualization {
		if explainer, err = newExplainer(cfg, rt); err != nil {
			return nil, err
		}
	}

	history := storage.NewMemoryHistoryRepository(storage.DefaultHistoryCapacity)
	c.UserService = app.NewUserService(storage.NewMemoryUserRepository())
	c.DiagnosisService = app.NewDiagnosisService(pre, classifier, explainer, report.NewTemplateDescriber(), history, cfg.TopK)

	ok = true
	return c, nil
}

// Close releases backend resources.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func newPreprocessor(size int) (*preprocess.Preprocessor, error) {
	pc := preprocess.DefaultConfig()
	pc.ResizeTo = size * pc.ResizeTo / pc.CropSize
	pc.CropSize = size
	return preprocess.New(pc)
}

func loadRuntime(cfg *config.Config) (*model.Runtime, error) {
	if cfg.WeightsPath == "" {
		log.Printf("WEIGHTS_PATH is not set, using randomly initialised %s weights", cfg.Architecture.Backbone)
		m, err := model.NewRandom(cfg.Architecture, randomSeed)
		if err != nil {
			return nil, fmt.Errorf("build model: %w", err)
		}
		return model.NewRuntime(m), nil
	}

	log.Printf("Loading weights from: %s", cfg.WeightsPath)
	m, err := model.LoadFile(cfg.Architecture, cfg.WeightsPath)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	return model.NewRuntime(m), nil
}

func (c *Container) newClassifier(cfg *config.Config, rt *model.Runtime) (port.Classifier, error) {
	if cfg.Backend == config.BackendNative {
		return inference.NewNativeClassifier(rt)
	}

	log.Printf("Loading ONNX model from: %s", cfg.ONNXModelPath)
	oc, err := inference.NewONNXClassifier(inference.ONNXConfig{
		ModelPath:   cfg.ONNXModelPath,
		LibraryPath: cfg.ONNXLibraryPath,
		ImageSize:   cfg.Architecture.ImageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("onnx classifier: %w", err)
	}
	c.closers = append(c.closers, oc.Close)
	return oc, nil
}

func newExplainer(cfg *config.Config, rt *model.Runtime) (port.Explainer, error) {
	compositor, err := visualize.NewCompositor(cfg.Visualization)
	if err != nil {
		return nil, err
	}

	var sweeper vision.Sweeper
	if cfg.Visualization.ReturnType == visualize.ReturnFile {
		sweeper = storage.NewVisualizationJanitor(cfg.Visualization.OutputDir, cfg.MaxFiles, cfg.MaxAge)
	}

	return vision.NewGradCAMExplainer(rt, cfg.TargetLayer, compositor, sweeper, cfg.PublicPath)
}
