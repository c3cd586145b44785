// Package app wires the stores, services and schema registry shared by the
// server, worker and seed binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"specforge/internal/config"
	"specforge/internal/core/tx"
	"specforge/internal/domain"
	"specforge/internal/domain/backup"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/internal/domain/validation"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/infrastructure/storage/postgres"
	"specforge/internal/metadata"
	"specforge/internal/metrics"
	"specforge/pkg/logger"
)

// Journal records committed batches and lists them back.
type Journal interface {
	Record(ctx context.Context, res *importer.Result) error
	Recent(ctx context.Context, entity string, limit int) ([]importer.Result, error)
}

// App holds the wired components of one process.
type App struct {
	Config   config.Config
	Log      *logger.Logger
	Registry *metadata.Registry
	Source   metadata.Source

	Store     domain.RecordStore
	TxManager tx.Manager
	Journal   Journal
	Importer  *importer.Service
	Exporter  *exchange.Exporter
	Backup    *backup.Writer
	Restore   *backup.Reader

	// Postgres only.
	Pool        *postgres.Pool
	Idempotency *postgres.IdempotencyStore
}

// New connects the store, compiles the schema and installs it.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: metadata.NewRegistry(),
		Source: metadata.Source{
			SpecDir:   cfg.SpecDir,
			TypesFile: cfg.TypesFile,
			Options:   []metadata.Option{metadata.WithConstraintCheck(validation.CheckConstraint)},
		},
	}
	a.Registry.OnReload = func(d time.Duration, err error) {
		metrics.Metrics.ObserveCompile(d, a.Registry.Version()+1, err)
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Importer = importer.NewService(importer.Config{
		Schemas:    a.Registry,
		Store:      a.Store,
		TxManager:  a.TxManager,
		ErrorLimit: cfg.ErrorLimit,
		Journal:    a.Journal,
	})
	a.Exporter = exchange.NewExporter(a.Registry, a.Store)
	a.Backup = backup.NewWriter(a.Registry, a.Exporter)
	a.Restore = backup.NewReader(a.Importer)

	if _, err := a.Reload(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		store := memory.New()
		a.Store = store
		a.TxManager = store
		a.Journal = memory.NewJournal(0)
		a.Log.Infow("using in-memory store")
		return nil
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(a.Config.DatabaseURL))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	txm := postgres.NewTxManager(pool)
	a.TxManager = txm
	a.Store = postgres.NewStore(txm)

	journal, err := postgres.NewJournal(txm)
	if err != nil {
		return err
	}
	if err := journal.EnsureTable(ctx); err != nil {
		return fmt.Errorf("create import log: %w", err)
	}
	a.Journal = journal

	if a.Config.IdempotencyEnabled {
		a.Idempotency = postgres.NewIdempotencyStore(txm, a.Config.IdempotencyTTL)
		if err := a.Idempotency.EnsureTable(ctx); err != nil {
			return fmt.Errorf("create idempotency table: %w", err)
		}
	}
	a.Log.Infow("using postgres store")
	return nil
}

// Reload recompiles the documents and installs the result into the store.
func (a *App) Reload(ctx context.Context) (*metadata.Schema, error) {
	s, err := a.Registry.Reload(ctx, a.Source.Build)
	if err != nil {
		return nil, err
	}
	return s, a.Install(ctx, s)
}

// Install creates tables, views and null records for s.
func (a *App) Install(ctx context.Context, s *metadata.Schema) error {
	if err := a.Store.EnsureSchema(ctx, s); err != nil {
		return fmt.Errorf("install schema version %d: %w", s.Version, err)
	}
	return nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
