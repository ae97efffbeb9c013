package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/ragpipe/internal/config"
	"github.com/xxxsen/ragpipe/internal/db"
)

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "ragpipe",
		Password: "ragpipe_pass",
		DBName:   "ragpipe_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

// TruncateTasks clears task rows between tests sharing one database.
func TruncateTasks(t *testing.T, conn *sql.DB) {
	t.Helper()
	if _, err := conn.Exec(`TRUNCATE file_to_embedding_task RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
