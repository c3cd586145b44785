package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/domain/backup"
	"specforge/internal/domain/computed"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	v1 "specforge/internal/infrastructure/http/v1"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
	"specforge/internal/metrics"
	"specforge/pkg/logger"
)

type server struct {
	handler   http.Handler
	registry  *metadata.Registry
	installed int

	mu   sync.Mutex
	runs []string
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	srv := &server{registry: metadata.NewRegistry()}

	build := func(context.Context) (*metadata.Schema, error) { return schematest.Fixture(t), nil }
	sc, err := srv.registry.Reload(ctx, build)
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, store.EnsureSchema(ctx, sc))

	journal := memory.NewJournal(10)
	svc := importer.NewService(importer.Config{
		Schemas:   srv.registry,
		Store:     store,
		TxManager: store,
		Metrics:   metrics.New(),
		Journal:   journal,
	})
	exporter := exchange.NewExporter(srv.registry, store)

	scheduler := computed.NewScheduler(func(_ context.Context, r *metadata.ComputedRule) error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		srv.runs = append(srv.runs, r.Entity+"."+r.Column)
		return nil
	})
	require.NoError(t, scheduler.Sync(sc))

	gatherer := prometheus.NewRegistry()
	metrics.New().MustRegister(gatherer)
	gatherer.MustRegister(metrics.NewPoolCollector(func() metrics.PoolStats {
		return metrics.PoolStats{TotalConns: 2, IdleConns: 2, MaxConns: 10}
	}))

	srv.handler = v1.NewRouter(v1.RouterConfig{
		Logger:   logger.NewNop(),
		Registry: srv.registry,
		Build:    build,
		Installed: func(ctx context.Context, s *metadata.Schema) error {
			srv.installed++
			return store.EnsureSchema(ctx, s)
		},
		Store:     store,
		Importer:  svc,
		Exporter:  exporter,
		Backup:    backup.NewWriter(srv.registry, exporter),
		Restore:   backup.NewReader(svc),
		ImportLog: journal,
		Scheduler: scheduler,
		Gatherer:  gatherer,
		Version:   "test",
	})
	return srv
}

func (s *server) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *server) json(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := s.do(t, method, path, r)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", nil).Code)

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/health/ready", "", &ready))
	assert.Equal(t, "healthy", ready.Checks["schema"])

	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "specforge_db_pool_max_connections 10")

	var notFound map[string]any
	assert.Equal(t, http.StatusNotFound, s.json(t, http.MethodGet, "/nope", "", &notFound))
	assert.Equal(t, "NOT_FOUND", notFound["code"])
}

func TestSchemaRoutes(t *testing.T) {
	s := newServer(t)

	var schema struct {
		Version int64    `json:"version"`
		Order   []string `json:"order"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/schema", "", &schema))
	assert.Equal(t, int64(1), schema.Version)
	assert.Contains(t, schema.Order, "Project")
	assert.Less(t, indexOf(schema.Order, "Project"), indexOf(schema.Order, "Task"))

	var entity struct {
		Name        string `json:"name"`
		ForeignKeys []struct {
			Name   string `json:"name"`
			Target string `json:"target"`
		} `json:"foreignKeys"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/schema/entities/task", "", &entity))
	assert.Equal(t, "Task", entity.Name)
	require.NotEmpty(t, entity.ForeignKeys)
	assert.Equal(t, "Project", entity.ForeignKeys[0].Target)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/schema/entities/Nope", nil).Code)

	ddl := s.do(t, http.MethodGet, "/api/v1/schema/ddl", nil)
	assert.Equal(t, http.StatusOK, ddl.Code)
	assert.Contains(t, ddl.Body.String(), "CREATE TABLE IF NOT EXISTS")
	assert.Contains(t, ddl.Body.String(), `"v_task"`)

	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/schema/reload", "", &schema))
	assert.Equal(t, int64(2), schema.Version)
	assert.Equal(t, 1, s.installed)
}

func TestImportExportRoundTrip(t *testing.T) {
	s := newServer(t)

	var res importer.Result
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import/employee",
		`{"records":[{"name":"Jane Doe"}]}`, nil))
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import/employee",
		`{"records":[{"name":"John Roe","manager":"Jane Doe"}]}`, &res))
	assert.Equal(t, "Employee", res.Entity)
	assert.Equal(t, 1, res.Loaded)
	assert.False(t, res.DryRun)
	assert.Empty(t, res.FKWarnings)

	var export struct {
		Entity  string           `json:"entity"`
		Records []map[string]any `json:"records"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/export/Employee", "", &export))
	require.Len(t, export.Records, 2)
	assert.Equal(t, "Jane Doe", export.Records[1]["manager"])

	var log struct {
		Results []importer.Result `json:"results"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/import-log?entity=employee", "", &log))
	require.Len(t, log.Results, 2)
	assert.Equal(t, res.BatchID, log.Results[0].BatchID, "newest first")
}

func TestImportDryRunWritesNothing(t *testing.T) {
	s := newServer(t)

	var res importer.Result
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import/Employee?dry_run=true",
		`{"records":[{"name":"Jane Doe"}]}`, &res))
	assert.True(t, res.DryRun)

	var page struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			TotalItems int64 `json:"totalItems"`
		} `json:"pagination"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/records/Employee", "", &page))
	assert.Empty(t, page.Data)
	assert.Zero(t, page.Pagination.TotalItems)
}

func TestImportRejectsBadRequests(t *testing.T) {
	s := newServer(t)

	var body map[string]any
	assert.Equal(t, http.StatusBadRequest, s.json(t, http.MethodPost, "/api/v1/import/Employee?accept_ql=99", `{"records":[]}`, &body))
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	assert.Equal(t, http.StatusBadRequest, s.json(t, http.MethodPost, "/api/v1/import/Employee", `{"rows":[]}`, &body))
	assert.Equal(t, http.StatusNotFound, s.json(t, http.MethodPost, "/api/v1/import/Nope", `{"records":[]}`, &body))
	assert.Equal(t, http.StatusBadRequest, s.json(t, http.MethodPost, "/api/v1/import", `{"batches":[]}`, &body))
}

func TestImportAllOrdersBatches(t *testing.T) {
	s := newServer(t)

	var res struct {
		Results []importer.Result `json:"results"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import", `{"batches":[
		{"entity":"Task","records":[{"title":"Kickoff","project":"Acme Corp-PRJ001","status":"A"}]},
		{"entity":"Project","records":[{"client":"Acme Corp","code":"PRJ001"}]}
	]}`, &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "Project", res.Results[0].Entity)
	assert.Equal(t, "Task", res.Results[1].Entity)
	assert.Equal(t, 1, res.Results[1].Loaded)
	assert.Empty(t, res.Results[1].FKWarnings)
}

func TestRecordRoutes(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import/Employee", `{"records":[{"name":"Jane Doe"}]}`, nil))

	var page struct {
		Data []map[string]any `json:"data"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/records/Employee?page=1&pageSize=10", "", &page))
	require.Len(t, page.Data, 1)
	rid := page.Data[0]["id"]

	var row map[string]any
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/records/Employee/2", "", &row))
	assert.Equal(t, rid, row["id"])
	assert.Equal(t, "Jane Doe", row["name"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/records/Employee/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/records/Employee/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/records/Employee?pageSize=9999", nil).Code)

	var labels struct {
		Labels map[string]string `json:"labels"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/records/Employee/labels", "", &labels))
	assert.Equal(t, "Jane Doe", labels.Labels["2"])
}

func TestComputedRoutes(t *testing.T) {
	s := newServer(t)

	var scheduled struct {
		Scheduled []string `json:"scheduled"`
	}
	require.Equal(t, http.StatusOK, s.json(t, http.MethodGet, "/api/v1/computed", "", &scheduled))
	assert.Equal(t, []string{"Project.open_tasks"}, scheduled.Scheduled)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/computed/Project/open_tasks/run", nil).Code)
	assert.Equal(t, []string{"Project.open_tasks"}, s.runs)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/computed/Project/code/run", nil).Code)
}

func TestBackupAndRestore(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.json(t, http.MethodPost, "/api/v1/import/Employee", `{"records":[{"name":"Jane Doe"}]}`, nil))

	w := s.do(t, http.MethodGet, "/api/v1/backup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zstd", w.Header().Get("Content-Type"))
	dump := w.Body.Bytes()

	var res struct {
		Results []importer.Result `json:"results"`
	}
	w = s.do(t, http.MethodPost, "/api/v1/restore?dry_run=true", bytes.NewReader(dump))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Results, len(s.registry.Current().Order))
	for _, r := range res.Results {
		assert.True(t, r.DryRun)
	}

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/restore", strings.NewReader("garbage")).Code)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
