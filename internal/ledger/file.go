package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ardian231/notify-wa/internal/types"
)

const backupPrefix = "sent_messages_backup_"

// FileStore is a JSON-file-backed ledger store. The whole entry list is
// rewritten atomically on every addition, which keeps the file readable by
// hand and loses at most the addition in flight on a crash.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries []types.LedgerEntry
	loaded  bool
	stat    fileStat
}

// fileStat identifies the file version the cached entries came from.
type fileStat struct {
	mod  time.Time
	size int64
}

func (a fileStat) same(b fileStat) bool {
	return a.size == b.size && a.mod.Equal(b.mod)
}

func statFile(path string) (fileStat, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStat{}, false
	}
	return fileStat{mod: fi.ModTime(), size: fi.Size()}, true
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path used by this store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file is an empty ledger. A plain
// JSON array of key strings is accepted as well.
func (s *FileStore) Load(_ context.Context) ([]types.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]types.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Add appends entry and rewrites the file. Adding a key that is already
// present is a no-op.
func (s *FileStore) Add(_ context.Context, entry types.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	for _, e := range s.entries {
		if e.Key == entry.Key {
			return nil
		}
	}
	next := append(s.entries, entry)
	if err := s.save(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Remove deletes the entry with the given key. Returns an error if not found.
func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	for i, e := range s.entries {
		if e.Key == key {
			next := make([]types.LedgerEntry, 0, len(s.entries)-1)
			next = append(next, s.entries[:i]...)
			next = append(next, s.entries[i+1:]...)
			if err := s.save(next); err != nil {
				return err
			}
			s.entries = next
			return nil
		}
	}
	return fmt.Errorf("ledger key not found: %s", key)
}

// Backup copies the current ledger file into dir with a timestamped name and
// keeps only the newest keep backups. It returns the backup path, or "" when
// there is nothing to back up yet.
func (s *FileStore) Backup(dir string, keep int, now time.Time) (string, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read ledger file: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	target := filepath.Join(dir, backupPrefix+stamp+".json")
	if err := writeAtomic(target, data); err != nil {
		return "", err
	}

	if keep > 0 {
		if err := pruneBackups(dir, keep); err != nil {
			return target, err
		}
	}
	return target, nil
}

func pruneBackups(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, backupPrefix+"*.json"))
	if err != nil {
		return fmt.Errorf("glob backups: %w", err)
	}
	if len(matches) <= keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old backup: %w", err)
		}
	}
	return nil
}

// load reads the file, or reuses the cached entries while the file is
// unchanged since the last load or save. Another process editing the file
// (ledger forget without a running daemon) invalidates the cache.
// Caller must hold s.mu.
func (s *FileStore) load() error {
	cur, exists := statFile(s.path)
	if s.loaded && cur.same(s.stat) {
		return nil
	}
	if !exists {
		s.entries = nil
		s.stat = fileStat{}
		s.loaded = true
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = nil
			s.stat = fileStat{}
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read ledger file: %w", err)
	}

	var entries []types.LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		var keys []string
		if legacyErr := json.Unmarshal(data, &keys); legacyErr != nil {
			return fmt.Errorf("unmarshal ledger: %w", err)
		}
		entries = make([]types.LedgerEntry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, types.LedgerEntry{Key: k})
		}
	}
	s.entries = entries
	s.stat = cur
	s.loaded = true
	return nil
}

// save marshals with indentation and writes atomically.
func (s *FileStore) save(entries []types.LedgerEntry) error {
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.stat, _ = statFile(s.path)
	return nil
}

// writeAtomic writes to a temp file then renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
