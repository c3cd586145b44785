//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"specforge/internal/core/apperror"
	"specforge/internal/domain"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/internal/infrastructure/storage/postgres"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
	"specforge/internal/metrics"
)

type staticSchema struct{ s *metadata.Schema }

func (s staticSchema) Current() *metadata.Schema { return s.s }

func startPostgres(t *testing.T) (*postgres.Store, *postgres.TxManager) {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("specforge"),
		tcpostgres.WithUsername("specforge"),
		tcpostgres.WithPassword("specforge"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	txm := postgres.NewTxManager(pool)
	return postgres.NewStore(txm), txm
}

func TestStoreLifecycle(t *testing.T) {
	store, txm := startPostgres(t)
	ctx := context.Background()
	s := schematest.Fixture(t)

	require.NoError(t, store.EnsureSchema(ctx, s))
	require.NoError(t, store.EnsureSchema(ctx, s), "ensure is idempotent")

	client, _ := s.Entity("Client")
	null, err := store.Get(ctx, client, metadata.NullRecordID)
	require.NoError(t, err)
	assert.True(t, null.IsSystem())

	rid, err := store.Insert(ctx, client, domain.Row{"name": "Acme Corp", "_ql": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rid)

	_, err = store.Insert(ctx, client, domain.Row{"name": "Acme Corp", "_ql": 0})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	_, err = store.Insert(ctx, client, domain.Row{"name": "Acme Corp", "_ql": 2, "_qd": `[{"field":"name"}]`})
	require.NoError(t, err, "defective rows are outside the partial unique index")

	n, err := store.Count(ctx, client, domain.ReadFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, _ := s.Entity("Task")
	_, err = store.Insert(ctx, task, domain.Row{"title": "x", "project_id": int64(99), "assignee_id": int64(1), "status": "A"})
	assert.True(t, apperror.IsInvariant(err))

	err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_ = txm.RunInSavepoint(ctx, func(ctx context.Context) error {
			_, err := store.Insert(ctx, client, domain.Row{"name": "Acme Corp", "_ql": 0})
			return err
		})
		_, err := store.Insert(ctx, client, domain.Row{"name": "Widget Inc", "_ql": 0})
		return err
	})
	require.NoError(t, err, "a failed savepoint leaves the transaction usable")
}

func TestImportExportRoundTrip(t *testing.T) {
	store, txm := startPostgres(t)
	ctx := context.Background()
	s := schematest.Fixture(t)
	require.NoError(t, store.EnsureSchema(ctx, s))

	svc := importer.NewService(importer.Config{Schemas: staticSchema{s}, Store: store, TxManager: txm, Metrics: metrics.New()})
	results, err := svc.LoadAll(ctx, []importer.Batch{
		{Entity: "Employee", Records: []domain.Record{{"name": "Jane Doe"}}},
		{Entity: "Project", Records: []domain.Record{{"client": "Acme Corp", "code": "PRJ001", "manager": "Jane Doe", "budget": 500}}},
		{Entity: "Task", Records: []domain.Record{
			{"title": "Kickoff", "project": "Acme-PRJ001", "status": "Active"},
			{"title": "Orphan", "project": "Nope", "status": "A"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	recs, err := exchange.NewExporter(staticSchema{s}, store).Export(ctx, "Task", exchange.Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Acme Corp-PRJ001", recs[0]["project"])
	assert.Equal(t, "A", recs[0]["status"])
}
