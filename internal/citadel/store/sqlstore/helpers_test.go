package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store/sqlstore"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	"github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as the local replica. suffix lets one test open two databases.
func openTestDB(t *testing.T, suffix ...string) *sql.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_") + strings.Join(suffix, "")
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed when the test
// finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn, db.SQLite)
	t.Cleanup(func() { w.Close() })
	return w
}

func newTestSet(t *testing.T, suffix ...string) (*sql.DB, store.Set) {
	t.Helper()
	conn := openTestDB(t, suffix...)
	return conn, sqlstore.New(conn, newTestWriter(t, conn), store.OriginLocal)
}

func seedStudent(t *testing.T, s store.Set, studentNo, name string) {
	t.Helper()
	if err := s.Identities.UpsertIdentity(context.Background(), types.Identity{
		StudentNo: studentNo,
		FullName:  name,
	}); err != nil {
		t.Fatalf("seed %s: %v", studentNo, err)
	}
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, ss, 0, time.UTC)
}
