package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStoreRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	store, err := NewPostgresStore(dsn, nil)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.table = postgresIntegrationTableName("karasync_state_it")
	store.stateKey = "it"
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.table)
	})

	epoch, err := store.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if epoch != 0 {
		t.Fatalf("expected epoch 0 before any save, got %d", epoch)
	}

	if err := store.Save(1000); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	epoch, err = store.Load()
	if err != nil || epoch != 1000 {
		t.Fatalf("load after save = (%d, %v), want (1000, nil)", epoch, err)
	}

	if err := store.Save(2000); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	epoch, err = store.Load()
	if err != nil || epoch != 2000 {
		t.Fatalf("load after upsert = (%d, %v), want (2000, nil)", epoch, err)
	}
}

func TestPostgresIntegrationStoreDegradesOnCorruptSnapshot(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	logger := &fakeLogger{}
	store, err := NewPostgresStore(dsn, logger)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.table = postgresIntegrationTableName("karasync_state_it")
	store.stateKey = "it"
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.table)
	})

	// First save creates the table, then the snapshot is corrupted behind
	// the store's back.
	if err := store.Save(500); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for corruption: %v", err)
	}
	defer db.Close()
	query := fmt.Sprintf("UPDATE %s SET snapshot = '{broken' WHERE state_key = $1", store.table)
	if _, err := db.Exec(query, store.stateKey); err != nil {
		t.Fatalf("corrupting snapshot failed: %v", err)
	}

	epoch, err := store.Load()
	if err != nil {
		t.Fatalf("load of corrupt snapshot should degrade, got error: %v", err)
	}
	if epoch != 0 {
		t.Fatalf("expected epoch 0 for corrupt snapshot, got %d", epoch)
	}
	if len(logger.lines) == 0 {
		t.Fatalf("expected a warning for the corrupt snapshot")
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("KARASYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set KARASYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	if strings.TrimSpace(dsn) == "" || strings.TrimSpace(tableName) == "" {
		return
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName)); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
