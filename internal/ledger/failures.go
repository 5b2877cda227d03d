package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ardian231/notify-wa/internal/types"
)

// FailureFile is a JSONL-backed append-only log of failed deliveries.
type FailureFile struct {
	path string
	mu   sync.Mutex
}

// NewFailureFile creates a FailureFile appending to path.
func NewFailureFile(path string) *FailureFile {
	return &FailureFile{path: path}
}

// Append adds a record to the end of the log, assigning an ID if it has none.
func (f *FailureFile) Append(_ context.Context, rec *types.FailureRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec.ID == "" {
		rec.ID = types.NewFailureID()
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	defer file.Close()

	data = append(data, '\n')
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write failure record: %w", err)
	}
	return nil
}

// Tail returns the last limit records, oldest first. A limit <= 0 returns all.
func (f *FailureFile) Tail(_ context.Context, limit int) ([]*types.FailureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer file.Close()

	var records []*types.FailureRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec types.FailureRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal failure record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan failure log: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
