// Package main is the entry point for the specforge background worker.
// It writes scheduled backups, refreshes periodic computed fields and
// expires idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"specforge/internal/app"
	"specforge/internal/config"
	"specforge/internal/domain/computed"
	"specforge/internal/infrastructure/cache"
	"specforge/pkg/logger"
)

func main() {
	cfg, err := config.Load("specforge-worker", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("the worker needs DATABASE_URL; an in-memory store is private to one process")
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting specforge worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to start", "error", err)
	}
	defer a.Close()

	var keys KeyCleaner
	if a.Idempotency != nil {
		keys = a.Idempotency
	}
	w := NewWorker(a.Backup, keys, cfg.BackupDir, log)
	jobs := cron.New()
	if err := w.Schedule(ctx, jobs, cfg.BackupSchedule); err != nil {
		log.Fatalw("failed to schedule jobs", "error", err)
	}
	jobs.Start()

	scheduler := computed.NewScheduler(computed.LogHandler)
	if err := scheduler.Sync(a.Registry.Current()); err != nil {
		log.Fatalw("failed to schedule computed rules", "error", err)
	}
	scheduler.Start()

	// Server reloads are announced; follow them so computed rules stay current.
	schemaSync := cache.NewSchemaSync(a.Pool.Pool, func(ctx context.Context) error {
		s, err := a.Reload(ctx)
		if err != nil {
			return err
		}
		return scheduler.Sync(s)
	})
	schemaSync.Start(ctx)

	log.Infow("worker running",
		"backup_schedule", cfg.BackupSchedule,
		"backup_dir", cfg.BackupDir,
		"computed_rules", scheduler.Scheduled(),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	schemaSync.Stop()

	stopCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	scheduler.Stop(stopCtx)
	select {
	case <-jobs.Stop().Done():
	case <-stopCtx.Done():
		log.Warn("jobs still running at shutdown")
	}
	log.Info("worker stopped")
}
