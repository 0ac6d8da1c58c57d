package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// batchWorkers bounds concurrent staging during ProcessDirectory.
const batchWorkers = 4

// ProcessDirectory submits one job per regular file in dir that matches the
// configured patterns. Files that fail staging or submission are skipped.
// It returns the number of jobs submitted.
func (w *Watcher) ProcessDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var submitted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !w.matches(path) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := entry.Info()
			if err != nil || info.Size() < w.cfg.MinFileSize {
				return nil
			}
			job, err := w.submitFile(gctx, path)
			if err != nil {
				w.logger.Warn("skipping batch file", "path", path, "error", err)
				return nil
			}
			atomic.AddInt64(&submitted, 1)
			w.logger.Debug("submitted batch file", "path", path, "job_id", job.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(submitted), err
	}

	w.logger.Info("batch directory processed", "path", dir, "submitted_count", submitted)
	return int(submitted), nil
}
