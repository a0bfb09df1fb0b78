package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inboxkeep/core/internal/config"
	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/logging"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the configured database and migrates the schema
func Initialize(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logging.GormLevel(cfg.LogLevel)),
	}

	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseDSN)
	default:
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, err
		}
		dsn := cfg.DatabasePath
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DatabaseDriver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs all schema migrations
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.EmailAccount{},
		&models.Email{},
		&models.Attachment{},
		&models.Log{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Rows left PROCESSING by a crash are eligible again
	return db.Model(&models.Attachment{}).
		Where("extraction_status = ?", models.ExtractionProcessing).
		Update("extraction_status", models.ExtractionPending).Error
}
