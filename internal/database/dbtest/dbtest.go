// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"os"
	"testing"

	"github.com/inboxkeep/core/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a migrated database in a temp file and returns it with
// a cleanup func
func Open(t testing.TB) (*gorm.DB, func()) {
	t.Helper()

	// Create a temporary database file
	tmpFile, err := os.CreateTemp("", "inboxkeep_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}
