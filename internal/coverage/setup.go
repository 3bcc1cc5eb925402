package coverage

import (
	"fmt"
	"log/slog"

	"github.com/openisp/ops-backend/internal/db"
	"gorm.io/gorm"
)

// Init creates the coverage tables.
func Init(d *gorm.DB, logger *slog.Logger) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", db.Schema, err)
	}
	if err := db.EnsureExtensions(d); err != nil {
		return fmt.Errorf("enable extensions: %w", err)
	}

	if err := d.AutoMigrate(&CoverageArea{}); err != nil {
		return fmt.Errorf("auto-migrate coverage tables: %w", err)
	}

	// Candidate lookup filters on active + zone and orders by priority.
	if err := d.Exec(`
		CREATE INDEX IF NOT EXISTS idx_coverage_candidates
		ON serviceability.coverage_areas (zone_key, priority DESC, created_at DESC)
		WHERE active;
	`).Error; err != nil {
		return fmt.Errorf("create idx_coverage_candidates: %w", err)
	}

	logger.Info("Coverage module initialized")
	return nil
}
