package buildout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/listing"
	"gorm.io/gorm"
)

var (
	ErrRequestNotFound   = fmt.Errorf("buildout request not found: %w", apperr.ErrNotFound)
	ErrProjectNotFound   = fmt.Errorf("buildout project not found: %w", apperr.ErrNotFound)
	ErrMilestoneNotFound = fmt.Errorf("buildout milestone not found: %w", apperr.ErrNotFound)
	ErrOpenRequestExists = fmt.Errorf("an open buildout request already exists for this coverage area and address: %w", apperr.ErrConflict)
	ErrProjectExists     = fmt.Errorf("request already has a project: %w", apperr.ErrConflict)
)

// Repository is the persistence the workflow needs. Implementations bound to
// a transaction are handed to the Transaction callback.
type Repository interface {
	// Transaction runs fn atomically. Nested calls become savepoints.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateRequest(ctx context.Context, req *BuildoutRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*BuildoutRequest, error)
	ListRequests(ctx context.Context, p listing.Params) ([]BuildoutRequest, error)
	SaveRequest(ctx context.Context, req *BuildoutRequest) error
	// FindOpenRequest returns nil when no submitted or approved request
	// exists for the pair.
	FindOpenRequest(ctx context.Context, coverageAreaID, addressID uuid.UUID) (*BuildoutRequest, error)

	CreateProject(ctx context.Context, p *BuildoutProject) error
	GetProject(ctx context.Context, id uuid.UUID) (*BuildoutProject, error)
	GetProjectByRequest(ctx context.Context, requestID uuid.UUID) (*BuildoutProject, error)
	ListProjects(ctx context.Context, p listing.Params) ([]BuildoutProject, error)
	SaveProject(ctx context.Context, p *BuildoutProject) error
	// DeleteProject removes the project with its milestones and log.
	DeleteProject(ctx context.Context, id uuid.UUID) error

	CreateMilestone(ctx context.Context, m *BuildoutMilestone) error
	GetMilestone(ctx context.Context, id uuid.UUID) (*BuildoutMilestone, error)
	ListMilestones(ctx context.Context, p listing.Params) ([]BuildoutMilestone, error)
	CountMilestones(ctx context.Context, projectID uuid.UUID) (int64, error)
	SaveMilestone(ctx context.Context, m *BuildoutMilestone) error
	DeleteMilestone(ctx context.Context, id uuid.UUID) error

	// AppendUpdate is the only write path for the update log.
	AppendUpdate(ctx context.Context, u *BuildoutUpdate) error
	ListUpdates(ctx context.Context, p listing.Params) ([]BuildoutUpdate, error)
}

var (
	RequestListSpec = listing.Spec{
		OrderBy: map[string]string{
			"created_at": "created_at",
			"updated_at": "updated_at",
			"status":     "status",
		},
		DefaultOrder: "created_at",
		DefaultDesc:  true,
		Filters: map[string]listing.FilterSpec{
			"status":           {Column: "status", Allowed: RequestStatuses},
			"coverage_area_id": {Column: "coverage_area_id", Kind: listing.UUID},
			"address_id":       {Column: "address_id", Kind: listing.UUID},
			"qualification_id": {Column: "qualification_id", Kind: listing.UUID},
			"requested_by":     {Column: "requested_by"},
		},
	}

	ProjectListSpec = listing.Spec{
		OrderBy: map[string]string{
			"created_at":        "created_at",
			"updated_at":        "updated_at",
			"status":            "status",
			"progress_percent":  "progress_percent",
			"target_ready_date": "target_ready_date",
		},
		DefaultOrder: "created_at",
		DefaultDesc:  true,
		Filters: map[string]listing.FilterSpec{
			"status":           {Column: "status", Allowed: ProjectStatuses},
			"coverage_area_id": {Column: "coverage_area_id", Kind: listing.UUID},
			"address_id":       {Column: "address_id", Kind: listing.UUID},
			"request_id":       {Column: "request_id", Kind: listing.UUID},
		},
	}

	MilestoneListSpec = listing.Spec{
		OrderBy: map[string]string{
			"order_index": "order_index",
			"due_at":      "due_at",
			"created_at":  "created_at",
			"status":      "status",
		},
		DefaultOrder: "order_index",
		TieBreak:     "created_at",
		Filters: map[string]listing.FilterSpec{
			"status": {Column: "status", Allowed: MilestoneStatuses},
		},
	}

	UpdateListSpec = listing.Spec{
		OrderBy:      map[string]string{"created_at": "created_at"},
		DefaultOrder: "created_at",
		Filters: map[string]listing.FilterSpec{
			"status": {Column: "status", Allowed: ProjectStatuses},
		},
	}
)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(d *gorm.DB) *GormRepository {
	return &GormRepository{db: d}
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

func (r *GormRepository) CreateRequest(ctx context.Context, req *BuildoutRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrOpenRequestExists
		}
		return fmt.Errorf("create buildout request: %w", err)
	}
	return nil
}

func (r *GormRepository) GetRequest(ctx context.Context, id uuid.UUID) (*BuildoutRequest, error) {
	var req BuildoutRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	return &req, nil
}

func (r *GormRepository) ListRequests(ctx context.Context, p listing.Params) ([]BuildoutRequest, error) {
	var out []BuildoutRequest
	if err := p.Apply(r.db.WithContext(ctx).Model(&BuildoutRequest{})).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list buildout requests: %w", err)
	}
	return out, nil
}

func (r *GormRepository) SaveRequest(ctx context.Context, req *BuildoutRequest) error {
	if err := r.db.WithContext(ctx).Save(req).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrOpenRequestExists
		}
		return fmt.Errorf("save buildout request: %w", err)
	}
	return nil
}

func (r *GormRepository) FindOpenRequest(ctx context.Context, coverageAreaID, addressID uuid.UUID) (*BuildoutRequest, error) {
	var req BuildoutRequest
	err := r.db.WithContext(ctx).
		Where("coverage_area_id = ? AND address_id = ? AND status = ANY(?)", coverageAreaID, addressID,
			pq.Array([]string{string(RequestSubmitted), string(RequestApproved)})).
		Order("created_at").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open buildout request: %w", err)
	}
	return &req, nil
}

func (r *GormRepository) CreateProject(ctx context.Context, p *BuildoutProject) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrProjectExists
		}
		return fmt.Errorf("create buildout project: %w", err)
	}
	return nil
}

func (r *GormRepository) GetProject(ctx context.Context, id uuid.UUID) (*BuildoutProject, error) {
	var p BuildoutProject
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return &p, nil
}

func (r *GormRepository) GetProjectByRequest(ctx context.Context, requestID uuid.UUID) (*BuildoutProject, error) {
	var p BuildoutProject
	if err := r.db.WithContext(ctx).First(&p, "request_id = ?", requestID).Error; err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return &p, nil
}

func (r *GormRepository) ListProjects(ctx context.Context, p listing.Params) ([]BuildoutProject, error) {
	var out []BuildoutProject
	if err := p.Apply(r.db.WithContext(ctx).Model(&BuildoutProject{})).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list buildout projects: %w", err)
	}
	return out, nil
}

func (r *GormRepository) SaveProject(ctx context.Context, p *BuildoutProject) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save buildout project: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	d := r.db.WithContext(ctx)
	if err := d.Where("project_id = ?", id).Delete(&BuildoutMilestone{}).Error; err != nil {
		return fmt.Errorf("delete project milestones: %w", err)
	}
	if err := d.Where("project_id = ?", id).Delete(&BuildoutUpdate{}).Error; err != nil {
		return fmt.Errorf("delete project updates: %w", err)
	}
	res := d.Delete(&BuildoutProject{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete buildout project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *GormRepository) CreateMilestone(ctx context.Context, m *BuildoutMilestone) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create milestone: %w", err)
	}
	return nil
}

func (r *GormRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*BuildoutMilestone, error) {
	var m BuildoutMilestone
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrMilestoneNotFound)
	}
	return &m, nil
}

func (r *GormRepository) ListMilestones(ctx context.Context, p listing.Params) ([]BuildoutMilestone, error) {
	var out []BuildoutMilestone
	if err := p.Apply(r.db.WithContext(ctx).Model(&BuildoutMilestone{})).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return out, nil
}

func (r *GormRepository) CountMilestones(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&BuildoutMilestone{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count milestones: %w", err)
	}
	return n, nil
}

func (r *GormRepository) SaveMilestone(ctx context.Context, m *BuildoutMilestone) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("save milestone: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteMilestone(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&BuildoutMilestone{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete milestone: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

func (r *GormRepository) AppendUpdate(ctx context.Context, u *BuildoutUpdate) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("append buildout update: %w", err)
	}
	return nil
}

func (r *GormRepository) ListUpdates(ctx context.Context, p listing.Params) ([]BuildoutUpdate, error) {
	var out []BuildoutUpdate
	if err := p.Apply(r.db.WithContext(ctx).Model(&BuildoutUpdate{})).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list buildout updates: %w", err)
	}
	return out, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
