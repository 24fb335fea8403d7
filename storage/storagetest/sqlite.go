// Package storagetest opens throwaway databases for tests.
package storagetest

import (
	"context"
	"testing"

	"progression-gate/storage"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite returns a migrated, seeded in-memory database private to t.
// A single connection serialises transactions the way row locks do in
// Postgres.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := storage.SeedBadges(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}
