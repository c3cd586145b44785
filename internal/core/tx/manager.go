// Package tx provides transaction management abstractions.
// Domain code depends on these interfaces; the pgx implementation lives in
// infrastructure/storage/postgres and the memory store supplies a no-op one.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// An import batch runs inside one RunInTransaction call so that a batch is
// either stored completely or not at all. Nested calls reuse the existing
// transaction from context.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nop runs fn directly. Used by stores without transactions.
type Nop struct{}

func (Nop) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Savepointer runs fn in a nested scope that is rolled back alone when fn
// fails, leaving the enclosing transaction usable. Outside a transaction it
// behaves like RunInTransaction.
type Savepointer interface {
	RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nested runs fn through m's savepoint support when it has one, else
// directly.
func Nested(ctx context.Context, m Manager, fn func(ctx context.Context) error) error {
	if sp, ok := m.(Savepointer); ok {
		return sp.RunInSavepoint(ctx, fn)
	}
	return fn(ctx)
}
