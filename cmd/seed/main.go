// Package main provides a CLI tool for seeding the store with records.
// Usage: seed -data dir [-dry-run] [-accept-ql N]
//        seed -backup file.jsonl.zst [-dry-run]
//
// A data directory holds one <Entity>.json or <Entity>.yaml file per entity,
// each a list of exchange records. Files are loaded in dependency order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"specforge/internal/app"
	"specforge/internal/config"
	"specforge/internal/domain/backup"
	"specforge/internal/domain/importer"
	"specforge/pkg/logger"
)

func main() {
	var (
		dataDir    string
		backupFile string
		dryRun     bool
	)
	cfg, err := config.Load("seed", os.Args[1:], func(fs *flag.FlagSet) {
		fs.StringVar(&dataDir, "data", "", "Directory of <Entity>.json|yaml record files")
		fs.StringVar(&backupFile, "backup", "", "Backup dump to restore instead of a data directory")
		fs.BoolVar(&dryRun, "dry-run", false, "Run the whole pipeline without writing")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if (dataDir == "") == (backupFile == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -data or -backup is required")
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithLogger(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to start", "error", err)
	}
	defer a.Close()

	var results []*importer.Result
	if backupFile != "" {
		results, err = a.Restore.RestoreFile(ctx, backupFile, backup.RestoreOptions{AcceptQL: cfg.DefaultAcceptQL, DryRun: dryRun})
	} else {
		var batches []importer.Batch
		batches, err = ReadDir(dataDir)
		if err == nil {
			for i := range batches {
				batches[i].AcceptQL = cfg.DefaultAcceptQL
				batches[i].DryRun = dryRun
			}
			results, err = a.Importer.LoadAll(ctx, batches)
		}
	}
	if err != nil {
		log.Fatalw("seed failed", "error", err)
	}

	failed := false
	for _, r := range results {
		log.Infow("seeded",
			"entity", r.Entity,
			"loaded", r.Loaded,
			"updated", r.Updated,
			"skipped", r.Skipped,
			"rejected", r.Rejected,
			"failed", r.Failed,
			"fk_warnings", len(r.FKWarnings),
			"dry_run", r.DryRun,
		)
		for _, e := range r.Errors {
			log.Warnw("record error", "entity", r.Entity, "row", e.Row, "code", e.Code, "message", e.Message)
		}
		failed = failed || r.Rejected > 0 || r.Failed > 0
	}
	if failed {
		os.Exit(1)
	}
}
