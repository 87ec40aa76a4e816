package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
	"lung-vision/internal/tensor"
)

// ONNXConfig locates an exported classifier graph taking "input"
// [1, 3, S, S] and producing "output" [1, 3] logits.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	ImageSize   int
}

// ONNXClassifier runs an exported graph through onnxruntime. Its tensors are
// bound to one session, so calls are serialised.
type ONNXClassifier struct {
	mu      sync.Mutex
	size    int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initEnvironment(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// NewONNXClassifier initialises the runtime once and opens a session on the
// exported model.
func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if cfg.ModelPath == "" || cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("onnx classifier needs a model path and image size")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := int64(cfg.ImageSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(entity.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXClassifier{size: cfg.ImageSize, session: session, input: input, output: output}, nil
}

func (c *ONNXClassifier) Classify(ctx context.Context, img *tensor.Tensor) (*entity.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := img.Expect(1, 3, c.size, c.size); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dst := c.input.GetData()
	for i, v := range img.Data {
		dst[i] = float32(v)
	}
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out := c.output.GetData()
	logits := make([]float64, len(out))
	for i, v := range out {
		logits[i] = float64(v)
	}
	return predictionFromLogits(logits)
}

func (c *ONNXClassifier) Close() {
	if c.input != nil {
		c.input.Destroy()
	}
	if c.output != nil {
		c.output.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
}

var _ port.Classifier = (*ONNXClassifier)(nil)
