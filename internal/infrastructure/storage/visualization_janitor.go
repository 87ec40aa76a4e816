package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// VisualizationJanitor enforces the retention policy of the overlay
// directory: files older than MaxAge go first, then all but the MaxFiles
// newest. A zero limit disables that rule.
type VisualizationJanitor struct {
	Dir      string
	MaxFiles int
	MaxAge   time.Duration
	Now      func() time.Time
}

// NewVisualizationJanitor keeps at most maxFiles overlays younger than maxAge.
func NewVisualizationJanitor(dir string, maxFiles int, maxAge time.Duration) *VisualizationJanitor {
	return &VisualizationJanitor{Dir: dir, MaxFiles: maxFiles, MaxAge: maxAge, Now: time.Now}
}

type agedFile struct {
	path    string
	modTime time.Time
}

// Sweep applies the policy and reports how many files it removed. A missing
// directory is not an error.
func (j *VisualizationJanitor) Sweep() (int, error) {
	files, err := j.list()
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	kept := files[:0]
	if j.MaxAge > 0 {
		cutoff := j.Now().Add(-j.MaxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				if err := os.Remove(f.path); err != nil {
					errs = append(errs, err)
				} else {
					removed++
				}
				continue
			}
			kept = append(kept, f)
		}
		files = kept
	}

	if j.MaxFiles > 0 && len(files) > j.MaxFiles {
		sort.Slice(files, func(a, b int) bool { return files[a].modTime.After(files[b].modTime) })
		for _, f := range files[j.MaxFiles:] {
			if err := os.Remove(f.path); err != nil {
				errs = append(errs, err)
			} else {
				removed++
			}
		}
	}
	return removed, errors.Join(errs...)
}

func (j *VisualizationJanitor) list() ([]agedFile, error) {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		return nil, err
	}
	files := make([]agedFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, agedFile{path: filepath.Join(j.Dir, e.Name()), modTime: info.ModTime()})
	}
	return files, nil
}
