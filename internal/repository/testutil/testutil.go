// Package testutil opens migrated stores for tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/timmy/kmap/internal/config"
	"github.com/timmy/kmap/internal/repository"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLite opens a fresh migrated sqlite database in a temp dir.
func SQLite(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(tb.TempDir(), "kmap.db")}
	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Postgres opens the database named by TEST_POSTGRES_DSN, wiping all tables first.
// The test is skipped when the variable is unset.
func Postgres(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		tb.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		tb.Fatalf("open postgres: %v", err)
	}
	if err := db.Exec("DROP MATERIALIZED VIEW IF EXISTS umap_view").Error; err != nil {
		tb.Fatalf("drop projection: %v", err)
	}
	if err := db.Migrator().DropTable(reverse(repository.Models())...); err != nil {
		tb.Fatalf("drop tables: %v", err)
	}
	if err := repository.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("migrate postgres: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func reverse(models []interface{}) []interface{} {
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[len(models)-1-i] = m
	}
	return out
}
