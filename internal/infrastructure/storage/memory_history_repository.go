package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

// DefaultHistoryCapacity bounds the records kept in memory.
const DefaultHistoryCapacity = 200

// MemoryHistoryRepository keeps the newest diagnoses up to a capacity and
// running counters for the summary. Counters are not affected by eviction or
// deletion.
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	capacity int
	records  []*entity.Diagnosis // newest first

	day     time.Time
	total   int
	today   int
	confSum float64
}

func NewMemoryHistoryRepository(capacity int) *MemoryHistoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MemoryHistoryRepository{capacity: capacity}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// roll resets the daily counters when now falls on a later day.
func (r *MemoryHistoryRepository) roll(now time.Time) {
	if day := startOfDay(now); !day.Equal(r.day) {
		r.day = day
		r.today = 0
		r.confSum = 0
	}
}

func (r *MemoryHistoryRepository) Add(ctx context.Context, d *entity.Diagnosis) error {
	if d == nil || d.ID == "" || d.Prediction == nil {
		return fmt.Errorf("history: incomplete diagnosis")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append([]*entity.Diagnosis{d}, r.records...)
	if len(r.records) > r.capacity {
		r.records = r.records[:r.capacity]
	}
	r.roll(d.CreatedAt)
	r.total++
	r.today++
	r.confSum += d.Prediction.Top().Prob
	return nil
}

// List returns up to limit records, newest first; limit <= 0 returns all.
func (r *MemoryHistoryRepository) List(ctx context.Context, limit int) ([]*entity.Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.records)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]*entity.Diagnosis(nil), r.records[:n]...), nil
}

func (r *MemoryHistoryRepository) Get(ctx context.Context, id string) (*entity.Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.records {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("diagnosis %q: %w", id, port.ErrNotFound)
}

func (r *MemoryHistoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.records {
		if d.ID == id {
			r.records = append(r.records[:i:i], r.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("diagnosis %q: %w", id, port.ErrNotFound)
}

func (r *MemoryHistoryRepository) Summary(ctx context.Context, now time.Time) (entity.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll(now)
	s := entity.Summary{Day: r.day, Today: r.today, Total: r.total}
	if r.today > 0 {
		s.AvgConfidence = r.confSum / float64(r.today)
	}
	return s, nil
}

var _ port.HistoryRepository = (*MemoryHistoryRepository)(nil)
