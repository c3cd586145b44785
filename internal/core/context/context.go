// Package context provides request-scoped values extraction.
package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext contains request tracing information.
type TraceContext struct {
	TraceID   string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetTraceID returns trace ID from context or generates new one.
func GetTraceID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.TraceID
	}
	return uuid.New().String()
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext creates a new TraceContext with generated IDs.
func NewTraceContext() *TraceContext {
	return &TraceContext{
		TraceID:   uuid.New().String(),
		RequestID: uuid.New().String(),
	}
}

// BatchContext identifies the import batch an operation belongs to.
// Loggers and audit entries pick it up so every FK warning of a batch can be
// correlated afterwards.
type BatchContext struct {
	BatchID string
	Entity  string
	DryRun  bool
}

type batchContextKey struct{}

// WithBatch adds BatchContext to context.
func WithBatch(ctx context.Context, b *BatchContext) context.Context {
	return context.WithValue(ctx, batchContextKey{}, b)
}

// GetBatch returns BatchContext from context.
func GetBatch(ctx context.Context) *BatchContext {
	if v, ok := ctx.Value(batchContextKey{}).(*BatchContext); ok {
		return v
	}
	return nil
}

// GetBatchID returns the batch ID from context or empty string.
func GetBatchID(ctx context.Context) string {
	if b := GetBatch(ctx); b != nil {
		return b.BatchID
	}
	return ""
}
