package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"specforge/pkg/logger"
)

// BackupWriter writes a dump file into a directory.
type BackupWriter interface {
	WriteFile(ctx context.Context, dir string) (string, error)
}

// KeyCleaner drops expired idempotency keys.
type KeyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Worker runs the periodic maintenance jobs.
type Worker struct {
	backups BackupWriter
	keys    KeyCleaner
	dir     string
	log     *logger.Logger
}

// NewWorker creates a worker. keys may be nil when idempotency is off.
func NewWorker(backups BackupWriter, keys KeyCleaner, dir string, log *logger.Logger) *Worker {
	return &Worker{backups: backups, keys: keys, dir: dir, log: log.WithComponent("worker")}
}

// Schedule adds the backup job and, when enabled, hourly key cleanup.
func (w *Worker) Schedule(ctx context.Context, c *cron.Cron, backupSpec string) error {
	if _, err := c.AddFunc(backupSpec, func() { _, _ = w.Backup(ctx) }); err != nil {
		return fmt.Errorf("backup schedule %q: %w", backupSpec, err)
	}
	if w.keys != nil {
		if _, err := c.AddFunc("@hourly", func() { _, _ = w.CleanupKeys(ctx) }); err != nil {
			return fmt.Errorf("cleanup schedule: %w", err)
		}
	}
	return nil
}

// Backup writes one dump and logs where it went.
func (w *Worker) Backup(ctx context.Context) (string, error) {
	start := time.Now()
	path, err := w.backups.WriteFile(ctx, w.dir)
	if err != nil {
		w.log.Errorw("backup failed", "dir", w.dir, "error", err)
		return "", err
	}
	w.log.Infow("backup written", "path", path, "took", time.Since(start))
	return path, nil
}

// CleanupKeys removes expired idempotency keys.
func (w *Worker) CleanupKeys(ctx context.Context) (int64, error) {
	if w.keys == nil {
		return 0, nil
	}
	n, err := w.keys.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return 0, err
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
	return n, nil
}
