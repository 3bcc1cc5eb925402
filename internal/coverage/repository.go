package coverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/listing"
	"gorm.io/gorm"
)

var (
	ErrAreaNotFound  = fmt.Errorf("coverage area not found: %w", apperr.ErrNotFound)
	ErrDuplicateCode = fmt.Errorf("coverage area code already in use: %w", apperr.ErrConflict)
)

// ListSpec is the list contract of GET /coverage-areas.
var ListSpec = listing.Spec{
	OrderBy: map[string]string{
		"name":       "name",
		"priority":   "priority",
		"zone_key":   "zone_key",
		"created_at": "created_at",
		"updated_at": "updated_at",
	},
	DefaultOrder: "created_at",
	DefaultDesc:  true,
	Filters: map[string]listing.FilterSpec{
		"zone_key":        {Column: "zone_key"},
		"code":            {Column: "code"},
		"buildout_status": {Column: "buildout_status", Allowed: BuildoutStatuses},
		"serviceable":     {Column: "serviceable", Kind: listing.Bool},
		"active":          {Column: "active", Kind: listing.Bool},
	},
}

type Repository interface {
	CandidateSource
	Create(ctx context.Context, area *CoverageArea) error
	Get(ctx context.Context, id uuid.UUID) (*CoverageArea, error)
	List(ctx context.Context, p listing.Params) ([]CoverageArea, error)
	Save(ctx context.Context, area *CoverageArea) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(d *gorm.DB) *GormRepository {
	return &GormRepository{db: d}
}

// WithTx returns a repository bound to tx.
func (r *GormRepository) WithTx(tx *gorm.DB) *GormRepository {
	return &GormRepository{db: tx}
}

func (r *GormRepository) Candidates(ctx context.Context, zoneKey string) ([]CoverageArea, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if zoneKey != "" {
		q = q.Where("zone_key = ?", zoneKey)
	}
	var areas []CoverageArea
	if err := q.Order("priority DESC, created_at DESC").Find(&areas).Error; err != nil {
		return nil, fmt.Errorf("load coverage candidates: %w", err)
	}
	return areas, nil
}

func (r *GormRepository) Create(ctx context.Context, area *CoverageArea) error {
	if err := r.db.WithContext(ctx).Create(area).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*CoverageArea, error) {
	var area CoverageArea
	if err := r.db.WithContext(ctx).First(&area, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &area, nil
}

func (r *GormRepository) List(ctx context.Context, p listing.Params) ([]CoverageArea, error) {
	var areas []CoverageArea
	if err := p.Apply(r.db.WithContext(ctx).Model(&CoverageArea{})).Find(&areas).Error; err != nil {
		return nil, fmt.Errorf("list coverage areas: %w", err)
	}
	return areas, nil
}

func (r *GormRepository) Save(ctx context.Context, area *CoverageArea) error {
	if err := r.db.WithContext(ctx).Save(area).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&CoverageArea{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAreaNotFound
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrAreaNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateCode
	}
	return err
}
