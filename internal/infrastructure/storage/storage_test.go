package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

func TestMemoryUserRepository_GetCreatesAndSaves(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	u, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, u.State)

	u.SetState(entity.StateAwaitingPhoto)
	got, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, got.State, "unsaved changes stay local")

	require.NoError(t, repo.Save(ctx, u))
	got, err = repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateAwaitingPhoto, got.State)

	require.NoError(t, repo.UpdateState(ctx, 1, entity.StateProcessing))
	got, err = repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateProcessing, got.State)
}

func diagnosis(t *testing.T, id string, when time.Time, probs ...float64) *entity.Diagnosis {
	t.Helper()
	p, err := entity.NewPrediction(probs)
	require.NoError(t, err)
	return &entity.Diagnosis{ID: id, CreatedAt: when, Prediction: p}
}

func TestMemoryHistoryRepository_NewestFirstAndCapacity(t *testing.T) {
	repo := NewMemoryHistoryRepository(3)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Add(ctx, diagnosis(t, fmt.Sprint(i), now, 0.6, 0.3, 0.1)))
	}

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "4", all[0].ID)
	require.Equal(t, "2", all[2].ID)

	two, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)

	_, err = repo.Get(ctx, "0")
	require.ErrorIs(t, err, port.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "3"))
	require.ErrorIs(t, repo.Delete(ctx, "3"), port.ErrNotFound)
	all, err = repo.List(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"4", "2"}, []string{all[0].ID, all[1].ID})

	s, err := repo.Summary(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 5, s.Total)
	require.Equal(t, 5, s.Today)
	require.InDelta(t, 0.6, s.AvgConfidence, 1e-9)
}

func TestMemoryHistoryRepository_SummaryRollsOverDays(t *testing.T) {
	repo := NewMemoryHistoryRepository(0)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	require.NoError(t, repo.Add(ctx, diagnosis(t, "a", day1, 0.9, 0.05, 0.05)))
	require.NoError(t, repo.Add(ctx, diagnosis(t, "b", day2, 0.2, 0.5, 0.3)))

	s, err := repo.Summary(ctx, day2)
	require.NoError(t, err)
	require.Equal(t, 2, s.Total)
	require.Equal(t, 1, s.Today)
	require.InDelta(t, 0.5, s.AvgConfidence, 1e-9)

	s, err = repo.Summary(ctx, day2.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, s.Today)
	require.Zero(t, s.AvgConfidence)
}

func TestMemoryHistoryRepository_RejectsIncomplete(t *testing.T) {
	repo := NewMemoryHistoryRepository(0)
	require.Error(t, repo.Add(context.Background(), &entity.Diagnosis{ID: "x"}))
}

func touch(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
}

func TestVisualizationJanitor_Sweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	touch(t, dir, "old.png", now.Add(-48*time.Hour))
	touch(t, dir, "a.png", now.Add(-3*time.Hour))
	touch(t, dir, "b.png", now.Add(-2*time.Hour))
	touch(t, dir, "c.png", now.Add(-1*time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	j := NewVisualizationJanitor(dir, 2, 24*time.Hour)
	j.Now = func() time.Time { return now }
	removed, err := j.Sweep()
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"b.png", "c.png", "sub"}, names)
}

func TestVisualizationJanitor_MissingDir(t *testing.T) {
	j := NewVisualizationJanitor(filepath.Join(t.TempDir(), "nope"), 1, time.Hour)
	removed, err := j.Sweep()
	require.NoError(t, err)
	require.Zero(t, removed)
}
