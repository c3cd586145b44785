package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"specforge/internal/core/apperror"
)

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// IdempotencyDDL creates the key table.
const IdempotencyDDL = `CREATE TABLE IF NOT EXISTS specforge_idempotency (
	idempotency_key       text PRIMARY KEY,
	caller                text NOT NULL,
	operation             text NOT NULL,
	status                text NOT NULL,
	request_hash          text NOT NULL,
	response              bytea,
	response_status       integer NOT NULL DEFAULT 0,
	response_content_type text NOT NULL DEFAULT '',
	created_at            timestamptz NOT NULL,
	updated_at            timestamptz NOT NULL,
	expires_at            timestamptz NOT NULL
)`

// IdempotencyRecord stores the result of an idempotent operation.
type IdempotencyRecord struct {
	Key         string            `db:"idempotency_key"`
	Caller      string            `db:"caller"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"` // SHA256 of request body
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore guards import requests against double submission. A
// retried import with the same key replays the first response instead of
// loading the records twice.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// EnsureTable creates the key table.
func (s *IdempotencyStore) EnsureTable(ctx context.Context) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, IdempotencyDDL)
	return err
}

// AcquireKey attempts to acquire an idempotency key.
// Returns:
//   - (nil, nil) if key acquired successfully
//   - (cachedResponse, nil) if operation already completed (success or failed)
//   - (nil, error) if key is locked by another request or reused for a different one
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, caller, operation, requestHash string) (*IdempotencyReplay, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	var record IdempotencyRecord
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO specforge_idempotency (idempotency_key, caller, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			updated_at = $6,
			expires_at = GREATEST(specforge_idempotency.expires_at, $7)
		RETURNING idempotency_key, caller, operation, status, request_hash, response, response_status, response_content_type, created_at, updated_at, expires_at
	`, key, caller, operation, IdempotencyStatusPending, requestHash, now, expiresAt).Scan(
		&record.Key, &record.Caller, &record.Operation, &record.Status,
		&record.RequestHash, &record.Response, &record.StatusCode, &record.ContentType,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}

	// created by this call
	if record.CreatedAt.Equal(now) {
		return nil, nil
	}

	if record.Caller != caller || record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewConflict("idempotency key was used for a different request").
			WithDetail("key", key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	return replayFor(record, now, func() error {
		_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
			UPDATE specforge_idempotency
			SET updated_at = $1
			WHERE idempotency_key = $2 AND status = $3
		`, now, key, IdempotencyStatusPending)
		if err != nil {
			return fmt.Errorf("reclaim stale key: %w", err)
		}
		return nil
	})
}

// replayFor decides what an existing key means for a repeated request. A
// pending key older than a minute belongs to a crashed request and is
// reclaimed.
func replayFor(record IdempotencyRecord, now time.Time, reclaim func() error) (*IdempotencyReplay, error) {
	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil
	case IdempotencyStatusPending:
		if now.Sub(record.UpdatedAt) > time.Minute {
			return nil, reclaim()
		}
		return nil, apperror.NewConflict("a request with this idempotency key is still running").
			WithDetail("key", record.Key)
	}
	return nil, nil
}

// CompleteKey marks an idempotency key as completed with HTTP response.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, IdempotencyStatusSuccess, statusCode, contentType, response)
}

// FailKey marks an idempotency key as failed with HTTP response.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, IdempotencyStatusFailed, statusCode, contentType, response)
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status IdempotencyStatus, statusCode int, contentType string, response any) error {
	var body []byte
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			// keep the key consistent with a minimal body
			b, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		body = b
	}

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE specforge_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE idempotency_key = $6
	`, status, body, statusCode, contentType, time.Now().UTC(), key)
	return err
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM specforge_idempotency WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
