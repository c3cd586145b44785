package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/internal/infrastructure/storage/postgres"
	"specforge/pkg/logger"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 32 << 20 // 32 MiB, imports carry whole files

const (
	idempotencyKeyCtx   = "idempotency_key"
	idempotencyStoreCtx = "idempotency_store"
)

// IdempotencyStore persists idempotency keys and the responses to replay.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, key, caller, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error
	FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error
}

// Idempotency middleware protects imports against duplicate submission.
// Requests without the X-Idempotency-Key header pass through untouched.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			_ = c.Error(apperror.NewValidation("cannot read request body").WithCause(err))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// query parameters change the outcome of an import
		hash := sha256.New()
		hash.Write([]byte(c.Request.URL.RawQuery))
		hash.Write([]byte{0})
		hash.Write(body)
		requestHash := hex.EncodeToString(hash.Sum(nil))

		operation := c.Request.Method + " " + c.Request.URL.Path

		replay, err := store.AcquireKey(c.Request.Context(), key, c.ClientIP(), operation, requestHash)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				_ = c.Error(appErr)
				c.Abort()
				return
			}
			_ = c.Error(apperror.NewInternal(err).WithDetail("component", "idempotency"))
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(idempotencyKeyCtx, key)
		c.Set(idempotencyStoreCtx, store)

		c.Next()
	}
}

func idempotencyFrom(c *gin.Context) (string, IdempotencyStore, bool) {
	key, ok := c.Get(idempotencyKeyCtx)
	if !ok {
		return "", nil, false
	}
	store, ok := c.Get(idempotencyStoreCtx)
	if !ok {
		return "", nil, false
	}
	s, ok := store.(IdempotencyStore)
	return key.(string), s, ok && s != nil
}

// CompleteIdempotency stores a successful response for replay. Best effort.
func CompleteIdempotency(c *gin.Context, statusCode int, response any) {
	if key, store, ok := idempotencyFrom(c); ok {
		if err := store.CompleteKey(c.Request.Context(), key, statusCode, "application/json", response); err != nil {
			logger.Warn(c.Request.Context(), "idempotency key not completed", "key", key, "error", err)
		}
	}
}

// FailIdempotency stores an error response for replay. Best effort.
func FailIdempotency(c *gin.Context, statusCode int, response any) {
	if key, store, ok := idempotencyFrom(c); ok {
		if err := store.FailKey(c.Request.Context(), key, statusCode, "application/json", response); err != nil {
			logger.Warn(c.Request.Context(), "idempotency key not failed", "key", key, "error", err)
		}
	}
}
