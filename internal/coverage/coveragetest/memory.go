// Package coveragetest provides an in-memory coverage.Repository.
package coveragetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/listing"
)

type Repository struct {
	mu    sync.Mutex
	areas map[uuid.UUID]coverage.CoverageArea
	// tick keeps CreatedAt strictly increasing for rows created in one test.
	tick time.Time
}

func New() *Repository {
	return &Repository{
		areas: make(map[uuid.UUID]coverage.CoverageArea),
		tick:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *Repository) Candidates(_ context.Context, zoneKey string) ([]coverage.CoverageArea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []coverage.CoverageArea{}
	for _, a := range r.areas {
		if !a.Active {
			continue
		}
		if zoneKey != "" && (a.ZoneKey == nil || *a.ZoneKey != zoneKey) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) Create(_ context.Context, area *coverage.CoverageArea) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkCode(area); err != nil {
		return err
	}
	if area.ID == uuid.Nil {
		area.ID = uuid.New()
	}
	if area.CreatedAt.IsZero() {
		r.tick = r.tick.Add(time.Second)
		area.CreatedAt = r.tick
	}
	area.UpdatedAt = area.CreatedAt
	r.areas[area.ID] = *area
	return nil
}

func (r *Repository) Get(_ context.Context, id uuid.UUID) (*coverage.CoverageArea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.areas[id]
	if !ok {
		return nil, coverage.ErrAreaNotFound
	}
	return &a, nil
}

func (r *Repository) List(_ context.Context, p listing.Params) ([]coverage.CoverageArea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]coverage.CoverageArea, 0, len(r.areas))
	for _, a := range r.areas {
		all = append(all, a)
	}
	return listing.Slice(all, p, field), nil
}

func (r *Repository) Save(_ context.Context, area *coverage.CoverageArea) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.areas[area.ID]; !ok {
		return coverage.ErrAreaNotFound
	}
	if err := r.checkCode(area); err != nil {
		return err
	}
	r.tick = r.tick.Add(time.Second)
	area.UpdatedAt = r.tick
	r.areas[area.ID] = *area
	return nil
}

func (r *Repository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.areas[id]; !ok {
		return coverage.ErrAreaNotFound
	}
	delete(r.areas, id)
	return nil
}

// Put stores area as-is, bypassing geometry validation. Tests use it to plant
// corrupt rows.
func (r *Repository) Put(area coverage.CoverageArea) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if area.ID == uuid.Nil {
		area.ID = uuid.New()
	}
	r.areas[area.ID] = area
}

func (r *Repository) checkCode(area *coverage.CoverageArea) error {
	if area.Code == nil {
		return nil
	}
	for id, a := range r.areas {
		if id != area.ID && a.Code != nil && *a.Code == *area.Code {
			return coverage.ErrDuplicateCode
		}
	}
	return nil
}

func field(a coverage.CoverageArea, column string) any {
	switch column {
	case "id":
		return a.ID
	case "name":
		return a.Name
	case "code":
		return a.Code
	case "zone_key":
		return a.ZoneKey
	case "priority":
		return a.Priority
	case "buildout_status":
		return string(a.BuildoutStatus)
	case "serviceable":
		return a.Serviceable
	case "active":
		return a.Active
	case "created_at":
		return a.CreatedAt
	case "updated_at":
		return a.UpdatedAt
	}
	return nil
}
