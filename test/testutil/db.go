package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/learnstack/tutord/internal/config"
	"github.com/learnstack/tutord/internal/repo"
)

// OpenTestDB connects to the postgres instance named by TEST_DB_HOST and
// applies migrations. Tables are emptied so every test starts clean; the
// database must be a dedicated test instance with the pgvector extension
// available.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := repo.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "tutord",
		Password: "tutord_pass",
		DBName:   "tutord_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repo.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	for _, table := range []string{"content_chunks", "sources", "ingestion_records", "conversations", "messages"} {
		if _, err := conn.Exec("TRUNCATE TABLE " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return conn, func() {
		_ = conn.Close()
	}
}
