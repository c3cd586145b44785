package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/domain/backup"
	"specforge/internal/domain/exchange"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
	"specforge/pkg/logger"
)

type staticSchema struct{ s *metadata.Schema }

func (s staticSchema) Current() *metadata.Schema { return s.s }

type cleaner struct {
	n   int64
	err error
}

func (c cleaner) CleanupExpired(context.Context) (int64, error) { return c.n, c.err }

func TestBackupJob(t *testing.T) {
	ctx := context.Background()
	sc := schematest.Fixture(t)
	store := memory.New()
	require.NoError(t, store.EnsureSchema(ctx, sc))
	schemas := staticSchema{sc}

	w := NewWorker(backup.NewWriter(schemas, exchange.NewExporter(schemas, store)), nil, t.TempDir(), logger.NewNop())
	path, err := w.Backup(ctx)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	n, err := w.CleanupKeys(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupKeys(t *testing.T) {
	w := NewWorker(nil, cleaner{n: 3}, "", logger.NewNop())
	n, err := w.CleanupKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	boom := errors.New("boom")
	w = NewWorker(nil, cleaner{err: boom}, "", logger.NewNop())
	_, err = w.CleanupKeys(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSchedule(t *testing.T) {
	c := cron.New()
	w := NewWorker(nil, cleaner{}, "", logger.NewNop())
	require.NoError(t, w.Schedule(context.Background(), c, "@every 1h"))
	assert.Len(t, c.Entries(), 2)

	assert.Error(t, w.Schedule(context.Background(), cron.New(), "not a schedule"))

	c = cron.New()
	require.NoError(t, NewWorker(nil, nil, "", logger.NewNop()).Schedule(context.Background(), c, "@daily"))
	assert.Len(t, c.Entries(), 1)
}
