package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

const sqliteChatQuery = `SELECT id, title, created_at, updated_at, chat FROM chat WHERE updated_at > ? ORDER BY updated_at ASC`

// SQLiteReader reads the chat table of an OpenWebUI SQLite database file.
type SQLiteReader struct {
	db *sql.DB
}

// OpenSQLite opens path read-only and pings it so connection problems
// surface at setup time instead of mid-run.
func OpenSQLite(ctx context.Context, path string) (*SQLiteReader, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite database not found at %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not open sqlite database %s: %w", path, err)
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) FetchChangedSince(ctx context.Context, watermark int64) ([]ChatRecord, error) {
	rows, err := r.db.QueryContext(ctx, sqliteChatQuery, watermark)
	if err != nil {
		return nil, fmt.Errorf("sqlite chat query failed: %w", err)
	}
	return scanRecords(rows)
}

func (r *SQLiteReader) Close() error {
	return r.db.Close()
}
