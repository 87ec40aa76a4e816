package port

import (
	"context"
	"errors"
	"time"

	"lung-vision/internal/domain/entity"
)

var ErrNotFound = errors.New("not found")

// HistoryRepository keeps recent diagnoses, newest first.
type HistoryRepository interface {
	Add(ctx context.Context, d *entity.Diagnosis) error
	List(ctx context.Context, limit int) ([]*entity.Diagnosis, error)
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*entity.Diagnosis, error)
	Delete(ctx context.Context, id string) error
	Summary(ctx context.Context, now time.Time) (entity.Summary, error)
}
