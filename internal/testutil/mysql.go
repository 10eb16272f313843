// Package testutil provides helpers for integration tests against a real
// MySQL instance.  Tests skip when the database is unreachable.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/iliyamo/slot-market/internal/database"
)

const defaultTestDSN = "root:root@tcp(localhost:3306)/slot_market_test?parseTime=true&loc=UTC"

// NewTestDB opens TEST_MYSQL_DSN, applies migrations and truncates all
// tables.  It skips the test when MySQL cannot be reached.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		dsn = defaultTestDSN
	}
	db, err := database.OpenDSN(dsn)
	if err != nil {
		t.Skipf("skipping MySQL integration tests: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	TruncateAll(t, db)
	return db
}

// TruncateAll empties every application table.
func TruncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`SET FOREIGN_KEY_CHECKS = 0`,
		`TRUNCATE order_slots`,
		`TRUNCATE orders`,
		`TRUNCATE market_stats`,
		`TRUNCATE screens`,
		`SET FOREIGN_KEY_CHECKS = 1`,
	}
	c, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("acquire conn: %v", err)
	}
	defer c.Close()
	for _, s := range stmts {
		if _, err := c.ExecContext(ctx, s); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
}

// InsertScreen creates a screen row and returns its id.
func InsertScreen(t *testing.T, db *sql.DB, name string) uint64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(), `INSERT INTO screens (name) VALUES (?)`, name)
	if err != nil {
		t.Fatalf("insert screen: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("screen id: %v", err)
	}
	return uint64(id)
}
