// Package main is the entry point for the specforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"specforge/internal/app"
	"specforge/internal/config"
	"specforge/internal/domain/computed"
	"specforge/internal/infrastructure/cache"
	v1 "specforge/internal/infrastructure/http/v1"
	"specforge/internal/infrastructure/http/v1/middleware"
	"specforge/internal/metadata"
	"specforge/internal/metrics"
	"specforge/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load("specforge-server", os.Args[1:])
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

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting specforge server", "version", version, "spec_dir", cfg.SpecDir)

	metrics.Metrics.MustRegister(prometheus.DefaultRegisterer)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to start", "error", err)
	}
	defer a.Close()
	if a.Pool != nil {
		prometheus.MustRegister(metrics.NewPoolCollector(a.Pool.Stats))
	}

	// --- Computed-field scheduler ---
	var scheduler *computed.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = computed.NewScheduler(computed.LogHandler)
		if err := scheduler.Sync(a.Registry.Current()); err != nil {
			log.Fatalw("failed to schedule computed rules", "error", err)
		}
		scheduler.Start()
		log.Infow("computed scheduler started", "rules", scheduler.Scheduled())
	}

	resync := func(s *metadata.Schema) error {
		if scheduler != nil {
			return scheduler.Sync(s)
		}
		return nil
	}

	// --- Schema sync across processes ---
	var schemaSync *cache.SchemaSync
	if a.Pool != nil {
		schemaSync = cache.NewSchemaSync(a.Pool.Pool, func(ctx context.Context) error {
			s, err := a.Reload(ctx)
			if err != nil {
				return err
			}
			return resync(s)
		})
		schemaSync.Start(ctx)
	}

	installed := func(ctx context.Context, s *metadata.Schema) error {
		if err := a.Install(ctx, s); err != nil {
			return err
		}
		if err := resync(s); err != nil {
			return err
		}
		if schemaSync != nil {
			if err := schemaSync.Announce(ctx, s.Version); err != nil {
				log.Warnw("failed to announce schema reload", "error", err)
			}
		}
		return nil
	}

	var idempotency middleware.IdempotencyStore
	if a.Idempotency != nil {
		idempotency = a.Idempotency
	}
	routerCfg := v1.RouterConfig{
		Logger:          log,
		Registry:        a.Registry,
		Build:           a.Source.Build,
		Installed:       installed,
		Store:           a.Store,
		Importer:        a.Importer,
		Exporter:        a.Exporter,
		Backup:          a.Backup,
		Restore:         a.Restore,
		ImportLog:       a.Journal,
		Scheduler:       scheduler,
		Idempotency:     idempotency,
		DefaultAcceptQL: cfg.DefaultAcceptQL,
		Version:         version,
		Development:     cfg.Development(),
	}
	if a.Pool != nil {
		routerCfg.DB = a.Pool
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute, // large imports and backups
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port, "store", storeKind(cfg))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if schemaSync != nil {
		schemaSync.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func storeKind(cfg config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}
