package qualification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/listing"
	"gorm.io/gorm"
)

var ErrQualificationNotFound = fmt.Errorf("qualification not found: %w", apperr.ErrNotFound)

var ListSpec = listing.Spec{
	OrderBy: map[string]string{
		"created_at":     "created_at",
		"status":         "status",
		"requested_tech": "requested_tech",
	},
	DefaultOrder: "created_at",
	DefaultDesc:  true,
	Filters: map[string]listing.FilterSpec{
		"status":           {Column: "status", Allowed: Statuses},
		"coverage_area_id": {Column: "coverage_area_id", Kind: listing.UUID},
		"address_id":       {Column: "address_id", Kind: listing.UUID},
		"requested_tech":   {Column: "requested_tech"},
		"zone_key":         {Column: "zone_key"},
		"geohash_prefix":   {Column: "geohash", Kind: listing.Prefix},
	},
}

type Repository interface {
	AddressStore
	QualificationStore
	GetQualification(ctx context.Context, id uuid.UUID) (*ServiceQualification, error)
	ListQualifications(ctx context.Context, p listing.Params) ([]ServiceQualification, error)
	// UpdateMetadata replaces the metadata of a stored check; nothing else
	// about a check is writable.
	UpdateMetadata(ctx context.Context, id uuid.UUID, m Metadata) (*ServiceQualification, error)

	CreateAddress(ctx context.Context, a *ServiceAddress) error
	// AddressesMissingCoordinates returns up to limit addresses without a
	// point, oldest first.
	AddressesMissingCoordinates(ctx context.Context, limit int) ([]ServiceAddress, error)
	SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, at time.Time) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(d *gorm.DB) *GormRepository {
	return &GormRepository{db: d}
}

func (r *GormRepository) GetAddress(ctx context.Context, id uuid.UUID) (*ServiceAddress, error) {
	var a ServiceAddress
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrAddressNotFound)
	}
	return &a, nil
}

func (r *GormRepository) CreateAddress(ctx context.Context, a *ServiceAddress) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *GormRepository) AddressesMissingCoordinates(ctx context.Context, limit int) ([]ServiceAddress, error) {
	var out []ServiceAddress
	err := r.db.WithContext(ctx).
		Where("latitude IS NULL OR longitude IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load addresses without coordinates: %w", err)
	}
	return out, nil
}

func (r *GormRepository) SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&ServiceAddress{}).Where("id = ?", id).Updates(map[string]interface{}{
		"latitude":    lat,
		"longitude":   lon,
		"geocoded_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAddressNotFound
	}
	return nil
}

func (r *GormRepository) CreateQualification(ctx context.Context, q *ServiceQualification) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *GormRepository) GetQualification(ctx context.Context, id uuid.UUID) (*ServiceQualification, error) {
	var q ServiceQualification
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrQualificationNotFound)
	}
	return &q, nil
}

func (r *GormRepository) ListQualifications(ctx context.Context, p listing.Params) ([]ServiceQualification, error) {
	var out []ServiceQualification
	if err := p.Apply(r.db.WithContext(ctx).Model(&ServiceQualification{})).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list qualifications: %w", err)
	}
	return out, nil
}

func (r *GormRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, m Metadata) (*ServiceQualification, error) {
	if m == nil {
		m = Metadata{}
	}
	res := r.db.WithContext(ctx).Model(&ServiceQualification{}).Where("id = ?", id).Update("metadata", m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrQualificationNotFound
	}
	return r.GetQualification(ctx, id)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
