package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

var (
	ErrBadImage          = errors.New("unreadable image")
	ErrClassifierMissing = errors.New("classifier is not configured")
)

// DiagnosisService classifies uploaded images, attaches a best-effort
// saliency overlay and findings text, and records the result.
type DiagnosisService struct {
	preprocessor port.Preprocessor
	classifier   port.Classifier
	explainer    port.Explainer
	describer    port.FindingDescriber
	history      port.HistoryRepository
	topK         int

	now   func() time.Time
	newID func() string
}

// NewDiagnosisService wires the pipeline. explainer and describer may be nil
// to disable overlays or reports.
func NewDiagnosisService(pre port.Preprocessor, classifier port.Classifier, explainer port.Explainer, describer port.FindingDescriber, history port.HistoryRepository, topK int) *DiagnosisService {
	return &DiagnosisService{
		preprocessor: pre,
		classifier:   classifier,
		explainer:    explainer,
		describer:    describer,
		history:      history,
		topK:         topK,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Diagnose runs the full pipeline on one encoded image. Only preprocessing
// and classification failures fail the call.
func (s *DiagnosisService) Diagnose(ctx context.Context, filename string, data []byte) (*entity.Diagnosis, error) {
	if s.classifier == nil {
		return nil, ErrClassifierMissing
	}
	img, err := s.preprocessor.Preprocess(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	pred, err := s.classifier.Classify(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	d := &entity.Diagnosis{
		ID:         s.newID(),
		Filename:   filename,
		CreatedAt:  s.now(),
		Prediction: pred,
		TopK:       pred.TopK(s.topK),
	}

	if s.explainer != nil {
		class := topIndex(pred)
		viz, err := s.explainer.Explain(ctx, img, class, "gradcam_"+d.ID)
		if err != nil {
			log.Printf("Visualization generation failed for %s: %v", d.ID, err)
		} else {
			d.Visualization = viz
		}
	}

	if s.describer != nil {
		report, err := s.describer.Describe(ctx, d)
		if err != nil {
			log.Printf("Report generation failed for %s: %v", d.ID, err)
		} else {
			d.Report = report
		}
	}

	if err := s.history.Add(ctx, d); err != nil {
		log.Printf("Failed to record diagnosis %s: %v", d.ID, err)
	}
	return d, nil
}

// History returns up to limit recent diagnoses, newest first.
func (s *DiagnosisService) History(ctx context.Context, limit int) ([]*entity.Diagnosis, error) {
	return s.history.List(ctx, limit)
}

// Get returns a stored diagnosis or port.ErrNotFound.
func (s *DiagnosisService) Get(ctx context.Context, id string) (*entity.Diagnosis, error) {
	return s.history.Get(ctx, id)
}

func (s *DiagnosisService) Delete(ctx context.Context, id string) error {
	return s.history.Delete(ctx, id)
}

// Summary aggregates the stored history as of now.
func (s *DiagnosisService) Summary(ctx context.Context) (entity.Summary, error) {
	return s.history.Summary(ctx, s.now())
}

func topIndex(p *entity.Prediction) int {
	best := 0
	for i, v := range p.Probabilities {
		if v > p.Probabilities[best] {
			best = i
		}
	}
	return best
}
