package buildout

import (
	"fmt"
	"log/slog"

	"github.com/openisp/ops-backend/internal/db"
	"gorm.io/gorm"
)

// Init creates the buildout tables and the open-request index.
func Init(d *gorm.DB, logger *slog.Logger) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", db.Schema, err)
	}
	if err := db.EnsureExtensions(d); err != nil {
		return fmt.Errorf("enable extensions: %w", err)
	}

	if err := d.AutoMigrate(
		&BuildoutRequest{},
		&BuildoutProject{},
		&BuildoutMilestone{},
		&BuildoutUpdate{},
	); err != nil {
		return fmt.Errorf("auto-migrate buildout tables: %w", err)
	}

	// At most one open request per location. FindOpenRequest is the fast
	// path; this index settles races between concurrent checks.
	if err := d.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_open_buildout_request
		ON serviceability.buildout_requests (coverage_area_id, address_id)
		WHERE status IN ('submitted', 'approved');
	`).Error; err != nil {
		return fmt.Errorf("create uniq_open_buildout_request: %w", err)
	}

	// Update log reads are always project-scoped and time-ordered.
	if err := d.Exec(`
		CREATE INDEX IF NOT EXISTS idx_buildout_updates_project_time
		ON serviceability.buildout_updates (project_id, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_buildout_updates_project_time: %w", err)
	}

	logger.Info("Buildout module initialized")
	return nil
}
