package port

import (
	"context"

	"lung-vision/internal/domain/entity"
)

// FindingDescriber writes the findings text for a diagnosis.
type FindingDescriber interface {
	Describe(ctx context.Context, d *entity.Diagnosis) (*entity.Report, error)
}
