// Package buildouttest provides an in-memory buildout.Repository. It enforces
// the same uniqueness rules as the Postgres schema and rolls back failed
// transactions.
package buildouttest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/listing"
)

type state struct {
	requests   map[uuid.UUID]buildout.BuildoutRequest
	projects   map[uuid.UUID]buildout.BuildoutProject
	milestones map[uuid.UUID]buildout.BuildoutMilestone
	updates    map[uuid.UUID]buildout.BuildoutUpdate
}

func (s state) clone() state {
	c := state{
		requests:   make(map[uuid.UUID]buildout.BuildoutRequest, len(s.requests)),
		projects:   make(map[uuid.UUID]buildout.BuildoutProject, len(s.projects)),
		milestones: make(map[uuid.UUID]buildout.BuildoutMilestone, len(s.milestones)),
		updates:    make(map[uuid.UUID]buildout.BuildoutUpdate, len(s.updates)),
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.milestones {
		c.milestones[k] = v
	}
	for k, v := range s.updates {
		c.updates[k] = v
	}
	return c
}

type Repository struct {
	mu   sync.Mutex
	s    state
	tick time.Time

	// FailAppendUpdate makes AppendUpdate fail, to exercise rollback.
	FailAppendUpdate error
}

func New() *Repository {
	return &Repository{
		s:    state{}.clone(),
		tick: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Transaction snapshots the store and restores it when fn fails. Calls are
// not isolated from each other; tests drive the store from one goroutine.
func (r *Repository) Transaction(_ context.Context, fn func(tx buildout.Repository) error) error {
	r.mu.Lock()
	snapshot := r.s.clone()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.s = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Repository) next() time.Time {
	r.tick = r.tick.Add(time.Second)
	return r.tick
}

func (r *Repository) CreateRequest(_ context.Context, req *buildout.BuildoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(req); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = r.next()
	req.UpdatedAt = req.CreatedAt
	r.s.requests[req.ID] = *req
	return nil
}

// checkOpen mirrors uniq_open_buildout_request.
func (r *Repository) checkOpen(req *buildout.BuildoutRequest) error {
	if req.CoverageAreaID == nil || req.AddressID == nil || !req.Status.Open() {
		return nil
	}
	for id, other := range r.s.requests {
		if id == req.ID || other.CoverageAreaID == nil || other.AddressID == nil || !other.Status.Open() {
			continue
		}
		if *other.CoverageAreaID == *req.CoverageAreaID && *other.AddressID == *req.AddressID {
			return buildout.ErrOpenRequestExists
		}
	}
	return nil
}

func (r *Repository) GetRequest(_ context.Context, id uuid.UUID) (*buildout.BuildoutRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, buildout.ErrRequestNotFound
	}
	return &req, nil
}

func (r *Repository) ListRequests(_ context.Context, p listing.Params) ([]buildout.BuildoutRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listing.Slice(values(r.s.requests), p, requestField), nil
}

func (r *Repository) SaveRequest(_ context.Context, req *buildout.BuildoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.requests[req.ID]; !ok {
		return buildout.ErrRequestNotFound
	}
	if err := r.checkOpen(req); err != nil {
		return err
	}
	req.UpdatedAt = r.next()
	r.s.requests[req.ID] = *req
	return nil
}

func (r *Repository) FindOpenRequest(_ context.Context, coverageAreaID, addressID uuid.UUID) (*buildout.BuildoutRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *buildout.BuildoutRequest
	for _, req := range r.s.requests {
		if req.CoverageAreaID == nil || req.AddressID == nil || !req.Status.Open() {
			continue
		}
		if *req.CoverageAreaID != coverageAreaID || *req.AddressID != addressID {
			continue
		}
		if found == nil || req.CreatedAt.Before(found.CreatedAt) {
			req := req
			found = &req
		}
	}
	return found, nil
}

func (r *Repository) CreateProject(_ context.Context, p *buildout.BuildoutProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.RequestID != nil {
		for _, other := range r.s.projects {
			if other.RequestID != nil && *other.RequestID == *p.RequestID {
				return buildout.ErrProjectExists
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = r.next()
	p.UpdatedAt = p.CreatedAt
	r.s.projects[p.ID] = *p
	return nil
}

func (r *Repository) GetProject(_ context.Context, id uuid.UUID) (*buildout.BuildoutProject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, buildout.ErrProjectNotFound
	}
	return &p, nil
}

func (r *Repository) GetProjectByRequest(_ context.Context, requestID uuid.UUID) (*buildout.BuildoutProject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.s.projects {
		if p.RequestID != nil && *p.RequestID == requestID {
			return &p, nil
		}
	}
	return nil, buildout.ErrProjectNotFound
}

func (r *Repository) ListProjects(_ context.Context, p listing.Params) ([]buildout.BuildoutProject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listing.Slice(values(r.s.projects), p, projectField), nil
}

func (r *Repository) SaveProject(_ context.Context, p *buildout.BuildoutProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.projects[p.ID]; !ok {
		return buildout.ErrProjectNotFound
	}
	p.UpdatedAt = r.next()
	r.s.projects[p.ID] = *p
	return nil
}

func (r *Repository) DeleteProject(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.projects[id]; !ok {
		return buildout.ErrProjectNotFound
	}
	for mid, m := range r.s.milestones {
		if m.ProjectID == id {
			delete(r.s.milestones, mid)
		}
	}
	for uid, u := range r.s.updates {
		if u.ProjectID == id {
			delete(r.s.updates, uid)
		}
	}
	delete(r.s.projects, id)
	return nil
}

func (r *Repository) CreateMilestone(_ context.Context, m *buildout.BuildoutMilestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = r.next()
	m.UpdatedAt = m.CreatedAt
	r.s.milestones[m.ID] = *m
	return nil
}

func (r *Repository) GetMilestone(_ context.Context, id uuid.UUID) (*buildout.BuildoutMilestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.s.milestones[id]
	if !ok {
		return nil, buildout.ErrMilestoneNotFound
	}
	return &m, nil
}

func (r *Repository) ListMilestones(_ context.Context, p listing.Params) ([]buildout.BuildoutMilestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listing.Slice(values(r.s.milestones), p, milestoneField), nil
}

func (r *Repository) CountMilestones(_ context.Context, projectID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, m := range r.s.milestones {
		if m.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (r *Repository) SaveMilestone(_ context.Context, m *buildout.BuildoutMilestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.milestones[m.ID]; !ok {
		return buildout.ErrMilestoneNotFound
	}
	m.UpdatedAt = r.next()
	r.s.milestones[m.ID] = *m
	return nil
}

func (r *Repository) DeleteMilestone(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.s.milestones[id]; !ok {
		return buildout.ErrMilestoneNotFound
	}
	delete(r.s.milestones, id)
	return nil
}

func (r *Repository) AppendUpdate(_ context.Context, u *buildout.BuildoutUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailAppendUpdate != nil {
		return r.FailAppendUpdate
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = r.next()
	r.s.updates[u.ID] = *u
	return nil
}

func (r *Repository) ListUpdates(_ context.Context, p listing.Params) ([]buildout.BuildoutUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listing.Slice(values(r.s.updates), p, updateField), nil
}

// Counts reports how many rows of each kind the store holds.
func (r *Repository) Counts() (requests, projects, milestones, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.s.requests), len(r.s.projects), len(r.s.milestones), len(r.s.updates)
}

func values[T any](m map[uuid.UUID]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func requestField(r buildout.BuildoutRequest, column string) any {
	switch column {
	case "id":
		return r.ID
	case "status":
		return string(r.Status)
	case "coverage_area_id":
		return r.CoverageAreaID
	case "address_id":
		return r.AddressID
	case "qualification_id":
		return r.QualificationID
	case "requested_by":
		return r.RequestedBy
	case "created_at":
		return r.CreatedAt
	case "updated_at":
		return r.UpdatedAt
	}
	return nil
}

func projectField(p buildout.BuildoutProject, column string) any {
	switch column {
	case "id":
		return p.ID
	case "status":
		return string(p.Status)
	case "coverage_area_id":
		return p.CoverageAreaID
	case "address_id":
		return p.AddressID
	case "request_id":
		return p.RequestID
	case "progress_percent":
		return p.ProgressPercent
	case "target_ready_date":
		return p.TargetReadyDate
	case "created_at":
		return p.CreatedAt
	case "updated_at":
		return p.UpdatedAt
	}
	return nil
}

func milestoneField(m buildout.BuildoutMilestone, column string) any {
	switch column {
	case "id":
		return m.ID
	case "project_id":
		return m.ProjectID
	case "status":
		return string(m.Status)
	case "order_index":
		return m.OrderIndex
	case "due_at":
		return m.DueAt
	case "created_at":
		return m.CreatedAt
	}
	return nil
}

func updateField(u buildout.BuildoutUpdate, column string) any {
	switch column {
	case "id":
		return u.ID
	case "project_id":
		return u.ProjectID
	case "status":
		return string(u.Status)
	case "created_at":
		return u.CreatedAt
	}
	return nil
}
