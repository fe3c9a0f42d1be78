// Package state persists the sync watermark between runs. The watermark is
// the single piece of state this tool owns: the update timestamp below which
// all source chats are assumed already synced.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// InitialTimestamp is the watermark recorded when no valid state exists.
const InitialTimestamp = "1970-01-01T00:00:00.000Z"

const isoMillisLayout = "2006-01-02T15:04:05.000Z"

var ErrInvalidDSN = errors.New("invalid state DSN")

// Store loads and saves the watermark as epoch seconds.
//
// Load degrades rather than fails: an absent or corrupt snapshot yields zero
// with a logged warning so a run can always start. Save is best-effort; a
// failed save only means the same records are re-scanned next run.
type Store interface {
	Load() (int64, error)
	Save(epoch int64) error
	Close() error
}

// Logger matches the subset of *log.Logger the stores need.
type Logger interface {
	Printf(format string, args ...any)
}

type persistedState struct {
	LastSyncTimestamp string `json:"last_sync_timestamp"`
}

// ISOTimestamp renders epoch seconds in the persisted wire format.
func ISOTimestamp(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(isoMillisLayout)
}

func parseISOTimestamp(value string) (int64, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// FileStore keeps the watermark in a small JSON file next to the operator's
// other sync artifacts. Writes go through a temp file plus rename so a crash
// mid-write cannot clobber the previous valid snapshot.
type FileStore struct {
	path   string
	logger Logger
}

func NewFileStore(path string, logger Logger) *FileStore {
	return &FileStore{path: strings.TrimSpace(path), logger: logger}
}

func (s *FileStore) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logf("state file %s not found; starting from %s", s.path, InitialTimestamp)
		} else {
			s.logf("warning: could not read state file %s (%v); starting from %s", s.path, err, InitialTimestamp)
		}
		return 0, nil
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logf("warning: state file %s is not valid JSON (%v); starting from %s", s.path, err, InitialTimestamp)
		return 0, nil
	}
	if snapshot.LastSyncTimestamp == "" {
		s.logf("warning: state file %s missing last_sync_timestamp; starting from %s", s.path, InitialTimestamp)
		return 0, nil
	}
	epoch, err := parseISOTimestamp(snapshot.LastSyncTimestamp)
	if err != nil {
		s.logf("warning: state file %s has unparseable timestamp %q (%v); starting from %s",
			s.path, snapshot.LastSyncTimestamp, err, InitialTimestamp)
		return 0, nil
	}
	return epoch, nil
}

func (s *FileStore) Save(epoch int64) error {
	snapshot := persistedState{LastSyncTimestamp: ISOTimestamp(epoch)}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeFileAtomic(s.path, data, 0o644)
}

// writeFileAtomic stages data in a unique temp file in the target directory
// and renames it over path, removing the temp file when anything fails
// before the rename.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// MemoryStore holds the watermark in memory only. Used by tests and by
// operators who explicitly want a full re-scan on every invocation.
type MemoryStore struct {
	mu    sync.Mutex
	epoch int64
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, nil
}

func (s *MemoryStore) Save(epoch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = epoch
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// NewStoreFromDSN selects a watermark store by DSN scheme: a bare path or
// file:// DSN maps to FileStore, memory:// to MemoryStore, and postgres://
// to PostgresStore.
func NewStoreFromDSN(dsn string, logger Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDSN)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileStore(path, logger), nil
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidDSN, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidDSN
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidDSN
	}
	return path, nil
}
