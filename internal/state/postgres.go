package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTable     = "karasync_state"
	postgresStateKey       = "default"
	postgresStateOpTimeout = 5 * time.Second
)

// PostgresStore keeps the watermark snapshot in a single-row table. Useful
// when the sync runs from ephemeral containers that have no durable disk but
// already reach the chat database.
type PostgresStore struct {
	dsn      string
	table    string
	stateKey string
	logger   Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string, logger Logger) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres DSN", ErrInvalidDSN)
	}
	return &PostgresStore{
		dsn:      dsn,
		table:    postgresStateTable,
		stateKey: postgresStateKey,
		logger:   logger,
	}, nil
}

func (s *PostgresStore) Load() (int64, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresStateOpTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = $1", s.table),
		s.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		s.logf("no sync state row found; starting from %s", InitialTimestamp)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var snapshot persistedState
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		s.logf("warning: stored sync state is not valid JSON (%v); starting from %s", err, InitialTimestamp)
		return 0, nil
	}
	epoch, err := parseISOTimestamp(snapshot.LastSyncTimestamp)
	if err != nil {
		s.logf("warning: stored sync state has unparseable timestamp %q (%v); starting from %s",
			snapshot.LastSyncTimestamp, err, InitialTimestamp)
		return 0, nil
	}
	return epoch, nil
}

func (s *PostgresStore) Save(epoch int64) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(persistedState{LastSyncTimestamp: ISOTimestamp(epoch)})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresStateOpTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, s.table)
	_, err = s.db.ExecContext(ctx, query, s.stateKey, string(payload))
	return err
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresStateOpTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, s.table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
