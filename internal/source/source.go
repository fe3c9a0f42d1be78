// Package source reads changed chat records out of an OpenWebUI database.
// Two interchangeable implementations exist behind the Reader interface:
// SQLite (the default OpenWebUI deployment) and PostgreSQL.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChatRecord is one row of the OpenWebUI chat table. Chat holds the raw
// serialized JSON document from the chat column; it is empty when the column
// is NULL. The record is read-only to this tool.
type ChatRecord struct {
	ID        string
	Title     string
	CreatedAt int64
	UpdatedAt int64
	Chat      string
}

// Reader fetches chat records changed since a watermark, ascending by
// update time.
type Reader interface {
	FetchChangedSince(ctx context.Context, watermark int64) ([]ChatRecord, error)
	Close() error
}

const connectTimeout = 5 * time.Second

// Open selects a Reader implementation by backend type and verifies the
// connection before returning. location is the database file path for
// sqlite and the connection DSN for postgres.
func Open(ctx context.Context, backend, location string) (Reader, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return OpenSQLite(ctx, location)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, location)
	default:
		return nil, fmt.Errorf("unsupported source backend: %s (choose sqlite or postgres)", backend)
	}
}

// scanRecords drains a chat query result set. The id column is TEXT on
// stock deployments but has been seen as INTEGER on older schemas, so it is
// scanned loosely and coerced to a string.
func scanRecords(rows *sql.Rows) ([]ChatRecord, error) {
	defer rows.Close()
	var records []ChatRecord
	for rows.Next() {
		var (
			id        any
			title     sql.NullString
			createdAt sql.NullInt64
			updatedAt sql.NullInt64
			chat      sql.NullString
		)
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt, &chat); err != nil {
			return records, err
		}
		records = append(records, ChatRecord{
			ID:        coerceID(id),
			Title:     title.String,
			CreatedAt: createdAt.Int64,
			UpdatedAt: updatedAt.Int64,
			Chat:      chat.String,
		})
	}
	return records, rows.Err()
}

func coerceID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
