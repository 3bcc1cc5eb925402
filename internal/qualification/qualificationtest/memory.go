// Package qualificationtest provides an in-memory qualification.Repository.
package qualificationtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/listing"
	"github.com/openisp/ops-backend/internal/qualification"
)

type Repository struct {
	mu             sync.Mutex
	addresses      map[uuid.UUID]qualification.ServiceAddress
	qualifications map[uuid.UUID]qualification.ServiceQualification
	tick           time.Time

	// FailCreate makes CreateQualification fail.
	FailCreate error
}

func New() *Repository {
	return &Repository{
		addresses:      make(map[uuid.UUID]qualification.ServiceAddress),
		qualifications: make(map[uuid.UUID]qualification.ServiceQualification),
		tick:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *Repository) next() time.Time {
	r.tick = r.tick.Add(time.Second)
	return r.tick
}

// AddAddress stores an address and returns its id. lat and lon may be nil.
func (r *Repository) AddAddress(line1 string, lat, lon *float64) uuid.UUID {
	a := qualification.ServiceAddress{Line1: line1, Latitude: lat, Longitude: lon}
	_ = r.CreateAddress(context.Background(), &a)
	return a.ID
}

func (r *Repository) GetAddress(_ context.Context, id uuid.UUID) (*qualification.ServiceAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.addresses[id]
	if !ok {
		return nil, qualification.ErrAddressNotFound
	}
	return &a, nil
}

func (r *Repository) CreateAddress(_ context.Context, a *qualification.ServiceAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = r.next()
	a.UpdatedAt = a.CreatedAt
	r.addresses[a.ID] = *a
	return nil
}

func (r *Repository) AddressesMissingCoordinates(_ context.Context, limit int) ([]qualification.ServiceAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []qualification.ServiceAddress
	for _, a := range r.addresses {
		if !a.HasCoordinates() {
			out = append(out, a)
		}
	}
	p := listing.Params{OrderColumn: "created_at", Limit: limit}
	return listing.Slice(out, p, func(a qualification.ServiceAddress, column string) any {
		switch column {
		case "id":
			return a.ID
		case "created_at":
			return a.CreatedAt
		}
		return nil
	}), nil
}

func (r *Repository) SetCoordinates(_ context.Context, id uuid.UUID, lat, lon float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.addresses[id]
	if !ok {
		return qualification.ErrAddressNotFound
	}
	a.Latitude, a.Longitude, a.GeocodedAt = &lat, &lon, &at
	a.UpdatedAt = r.next()
	r.addresses[id] = a
	return nil
}

func (r *Repository) CreateQualification(_ context.Context, q *qualification.ServiceQualification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailCreate != nil {
		return r.FailCreate
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = r.next()
	q.UpdatedAt = q.CreatedAt
	r.qualifications[q.ID] = *q
	return nil
}

func (r *Repository) GetQualification(_ context.Context, id uuid.UUID) (*qualification.ServiceQualification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.qualifications[id]
	if !ok {
		return nil, qualification.ErrQualificationNotFound
	}
	return &q, nil
}

func (r *Repository) ListQualifications(_ context.Context, p listing.Params) ([]qualification.ServiceQualification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]qualification.ServiceQualification, 0, len(r.qualifications))
	for _, q := range r.qualifications {
		all = append(all, q)
	}
	return listing.Slice(all, p, field), nil
}

func (r *Repository) UpdateMetadata(_ context.Context, id uuid.UUID, m qualification.Metadata) (*qualification.ServiceQualification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.qualifications[id]
	if !ok {
		return nil, qualification.ErrQualificationNotFound
	}
	if m == nil {
		m = qualification.Metadata{}
	}
	q.Metadata = m
	q.UpdatedAt = r.next()
	r.qualifications[id] = q
	return &q, nil
}

// Count reports how many qualifications are stored.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.qualifications)
}

func field(q qualification.ServiceQualification, column string) any {
	switch column {
	case "id":
		return q.ID
	case "status":
		return string(q.Status)
	case "coverage_area_id":
		return q.CoverageAreaID
	case "address_id":
		return q.AddressID
	case "requested_tech":
		return q.RequestedTech
	case "zone_key":
		return q.ZoneKey
	case "geohash":
		return q.Geohash
	case "created_at":
		return q.CreatedAt
	}
	return nil
}
