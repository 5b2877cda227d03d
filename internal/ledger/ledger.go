package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardian231/notify-wa/internal/types"
)

// Ledger is the in-memory view of delivered keys over a durable store. The
// store is the source of truth: Open rebuilds the view from it.
type Ledger struct {
	store types.LedgerStore
	mu    sync.RWMutex
	keys  map[string]struct{}
}

// Open loads every persisted entry from store.
func Open(ctx context.Context, store types.LedgerStore) (*Ledger, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[e.Key] = struct{}{}
	}
	return &Ledger{store: store, keys: keys}, nil
}

// Has reports whether key was already delivered.
func (l *Ledger) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.keys[key]
	return ok
}

// Record marks the entry's key as delivered and persists it before returning.
// The key stays in memory even if persisting fails, so this process will not
// resend it.
func (l *Ledger) Record(ctx context.Context, entry types.LedgerEntry) error {
	l.mu.Lock()
	l.keys[entry.Key] = struct{}{}
	l.mu.Unlock()

	if err := l.store.Add(ctx, entry); err != nil {
		return fmt.Errorf("persist ledger entry: %w", err)
	}
	return nil
}

// Forget removes key so it may be delivered again. This is the only way a key
// leaves the ledger.
func (l *Ledger) Forget(ctx context.Context, key string) error {
	if err := l.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove ledger entry: %w", err)
	}
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
	return nil
}

// Len returns the number of delivered keys.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keys)
}
