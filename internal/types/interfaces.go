// internal/types/interfaces.go
package types

import (
	"context"
)

// LedgerStore persists confirmed deliveries. Add must be durable by the time
// it returns.
type LedgerStore interface {
	Load(ctx context.Context) ([]LedgerEntry, error)
	Add(ctx context.Context, entry LedgerEntry) error
	Remove(ctx context.Context, key string) error
}

// FailureLog records deliveries that exhausted their attempts.
type FailureLog interface {
	Append(ctx context.Context, rec *FailureRecord) error
	Tail(ctx context.Context, limit int) ([]*FailureRecord, error)
}
