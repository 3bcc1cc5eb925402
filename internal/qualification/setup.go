package qualification

import (
	"fmt"
	"log/slog"

	"github.com/openisp/ops-backend/internal/db"
	"gorm.io/gorm"
)

// Init creates the address and qualification tables.
func Init(d *gorm.DB, logger *slog.Logger) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", db.Schema, err)
	}
	if err := db.EnsureExtensions(d); err != nil {
		return fmt.Errorf("enable extensions: %w", err)
	}

	if err := d.AutoMigrate(&ServiceAddress{}, &ServiceQualification{}); err != nil {
		return fmt.Errorf("auto-migrate qualification tables: %w", err)
	}

	// geohash_prefix filters are LIKE 'prefix%' scans.
	if err := d.Exec(`
		CREATE INDEX IF NOT EXISTS idx_qualifications_geohash_pattern
		ON serviceability.service_qualifications (geohash text_pattern_ops);
	`).Error; err != nil {
		return fmt.Errorf("create idx_qualifications_geohash_pattern: %w", err)
	}

	logger.Info("Qualification module initialized")
	return nil
}
