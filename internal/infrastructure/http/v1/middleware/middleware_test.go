package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
	"specforge/internal/infrastructure/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.Use(mw...)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandlerRendersAppErrors(t *testing.T) {
	r := newEngine()
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperror.NewNotFound("Project", 7))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, apperror.CodeNotFound, body["code"])
	assert.Equal(t, "Project", body["details"].(map[string]any)["entity"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode(t, w)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestRecovery(t *testing.T) {
	r := newEngine()
	r.GET("/panic", func(c *gin.Context) { panic("nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, decode(t, w)["code"])
}

func TestTracePropagatesRequestID(t *testing.T) {
	r := newEngine()
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

type fakeStore struct {
	hashes    map[string]string
	responses map[string]*postgres.IdempotencyReplay
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]string{}, responses: map[string]*postgres.IdempotencyReplay{}}
}

func (s *fakeStore) AcquireKey(_ context.Context, key, _, _, requestHash string) (*postgres.IdempotencyReplay, error) {
	if h, ok := s.hashes[key]; ok {
		if h != requestHash {
			return nil, apperror.NewConflict("idempotency key was used for a different request")
		}
		return s.responses[key], nil
	}
	s.hashes[key] = requestHash
	return nil, nil
}

func (s *fakeStore) CompleteKey(_ context.Context, key string, statusCode int, contentType string, response any) error {
	b, _ := json.Marshal(response)
	s.responses[key] = &postgres.IdempotencyReplay{StatusCode: statusCode, ContentType: contentType, Body: b}
	return nil
}

func (s *fakeStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.CompleteKey(ctx, key, statusCode, contentType, response)
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newEngine(Idempotency(store))
	r.POST("/import", func(c *gin.Context) {
		calls++
		resp := gin.H{"loaded": calls}
		CompleteIdempotency(c, http.StatusOK, resp)
		c.JSON(http.StatusOK, resp)
	})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/import", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, "k1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send(`{"records":[]}`)
	assert.Equal(t, http.StatusOK, first.Code)
	second := send(`{"records":[]}`)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	third := send(`{"records":[{"name":"x"}]}`)
	assert.Equal(t, http.StatusConflict, third.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRecordsFailures(t *testing.T) {
	store := newFakeStore()
	r := newEngine(Idempotency(store))
	r.POST("/import", func(c *gin.Context) {
		_ = c.Error(apperror.NewValidation("bad batch"))
	})

	req := httptest.NewRequest(http.MethodPost, "/import", strings.NewReader(`{}`))
	req.Header.Set(HeaderIdempotencyKey, "k2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Contains(t, store.responses, "k2")
	assert.Equal(t, http.StatusBadRequest, store.responses["k2"].StatusCode)
}
