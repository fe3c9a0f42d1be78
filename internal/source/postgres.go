package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresChatTable = "public.chat"

// PostgresReader reads the chat table of a PostgreSQL-backed OpenWebUI
// deployment.
type PostgresReader struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects with dsn and pings so credential or host problems
// surface at setup time.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresReader, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}
	return &PostgresReader{db: db, table: postgresChatTable}, nil
}

func (r *PostgresReader) FetchChangedSince(ctx context.Context, watermark int64) ([]ChatRecord, error) {
	query := fmt.Sprintf(
		"SELECT id, title, created_at, updated_at, chat FROM %s WHERE updated_at > $1 ORDER BY updated_at ASC",
		r.table)
	rows, err := r.db.QueryContext(ctx, query, watermark)
	if err != nil {
		return nil, fmt.Errorf("postgres chat query failed: %w", err)
	}
	return scanRecords(rows)
}

func (r *PostgresReader) Close() error {
	return r.db.Close()
}
