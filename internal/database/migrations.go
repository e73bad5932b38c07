package database

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/config"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationRecord tracks which migrations have been applied
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for migrations
func (MigrationRecord) TableName() string {
	return "_civicdesk_migrations"
}

// RunMigrations creates the schema and executes all pending SQL data migrations
func RunMigrations(db *gorm.DB, logger *logrus.Logger) error {
	tables := append(models.All(), &config.SystemConfig{}, &MigrationRecord{})
	if err := db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		var count int64
		if err := db.Model(&MigrationRecord{}).Where("name = ?", file).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check migration %s: %w", file, err)
		}
		if count > 0 {
			logger.WithField("migration", file).Debug("Migration already applied")
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		logger.WithField("migration", file).Info("Applying migration")
		err = db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range SplitStatements(string(content)) {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return tx.Create(&MigrationRecord{Name: file}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// 001_, 002_, ...
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// SplitStatements splits a script on ";" and drops chunks holding only comments
func SplitStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, trimmed)
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}
