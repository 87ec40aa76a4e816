package vision

import (
	"context"
	"log"
	"path"
	"path/filepath"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
	"lung-vision/internal/model"
	"lung-vision/internal/saliency"
	"lung-vision/internal/tensor"
	"lung-vision/internal/visualize"
)

// Sweeper prunes old artifacts before a new file is written.
type Sweeper interface {
	Sweep() (int, error)
}

// GradCAMExplainer renders saliency overlays with the native model.
type GradCAMExplainer struct {
	rt         *model.Runtime
	engine     *saliency.Engine
	compositor *visualize.Compositor
	sweeper    Sweeper
	publicPath string
}

// NewGradCAMExplainer resolves targetLayer once; an unknown layer fails here.
// sweeper may be nil.
func NewGradCAMExplainer(rt *model.Runtime, targetLayer string, compositor *visualize.Compositor, sweeper Sweeper, publicPath string) (*GradCAMExplainer, error) {
	engine, err := saliency.NewEngine(rt.Model.Architecture(), targetLayer)
	if err != nil {
		return nil, err
	}
	return &GradCAMExplainer{
		rt:         rt,
		engine:     engine,
		compositor: compositor,
		sweeper:    sweeper,
		publicPath: publicPath,
	}, nil
}

// Explain renders the overlay for class; saliency.TopClass uses the model's
// own prediction.
func (e *GradCAMExplainer) Explain(ctx context.Context, img *tensor.Tensor, class int, name string) (*entity.VisualizationArtifact, error) {
	mask, _, err := e.engine.Generate(ctx, e.rt, img, class)
	if err != nil {
		return nil, err
	}
	if e.compositor.Config().ReturnType == visualize.ReturnFile && e.sweeper != nil {
		if n, err := e.sweeper.Sweep(); err != nil {
			log.Printf("Visualization cleanup failed: %v", err)
		} else if n > 0 {
			log.Printf("Visualization cleanup removed %d files", n)
		}
	}
	a, err := e.compositor.Compose(img, mask, name)
	if err != nil {
		return nil, err
	}
	out := &entity.VisualizationArtifact{Kind: entity.KindGradCAM, DataURL: a.DataURL, FilePath: a.Path}
	if a.Path != "" && e.publicPath != "" {
		out.PublicURL = path.Join(e.publicPath, filepath.Base(a.Path))
	}
	return out, nil
}

var _ port.Explainer = (*GradCAMExplainer)(nil)
