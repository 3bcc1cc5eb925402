package buildout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/metrics"
)

var (
	ErrInvalidTransition    = fmt.Errorf("invalid request status transition: %w", apperr.ErrConflict)
	ErrProjectHasMilestones = fmt.Errorf("project still has milestones; delete them or pass cascade=true: %w", apperr.ErrConflict)
	ErrInvalidStatus        = fmt.Errorf("invalid status: %w", apperr.ErrInvalidInput)
	ErrInvalidProgress      = fmt.Errorf("progress_percent must be between 0 and 100: %w", apperr.ErrInvalidInput)
	ErrStatusNotEditable    = fmt.Errorf("request status changes go through approve, reject or cancel: %w", apperr.ErrInvalidInput)
	ErrNameRequired         = fmt.Errorf("name is required: %w", apperr.ErrInvalidInput)
	ErrMessageRequired      = fmt.Errorf("message is required: %w", apperr.ErrInvalidInput)
)

const (
	// AutoRequestNote marks requests opened by a qualification check.
	AutoRequestNote = "Automatically opened by a needs_buildout qualification check"

	approvedMessage       = "Buildout approved"
	projectCreatedMessage = "Project created"
	projectUpdatedMessage = "Project updated"
)

// Workflow drives buildout requests, projects, milestones and the update
// log. Every multi-row mutation runs inside Repository.Transaction.
type Workflow struct {
	repo    Repository
	metrics metrics.Recorder
	now     func() time.Time
}

func NewWorkflow(repo Repository, rec metrics.Recorder) *Workflow {
	if rec == nil {
		rec = (*metrics.Metrics)(nil)
	}
	return &Workflow{repo: repo, metrics: rec, now: func() time.Time { return time.Now().UTC() }}
}

// WithRepository returns a copy of w that writes through repo, typically a
// repository bound to the caller's transaction.
func (w *Workflow) WithRepository(repo Repository) *Workflow {
	c := *w
	c.repo = repo
	return &c
}

// Repository exposes the store for read-only handlers.
func (w *Workflow) Repository() Repository { return w.repo }

type AutoRequestInput struct {
	QualificationID uuid.UUID
	CoverageAreaID  uuid.UUID
	AddressID       uuid.UUID
}

// OpenAutomaticRequest opens a submitted request for the location unless an
// open one already exists, in which case that one is returned with created
// false. A concurrent writer that wins the unique index is treated the same
// way and yields (nil, false, nil).
func (w *Workflow) OpenAutomaticRequest(ctx context.Context, in AutoRequestInput) (*BuildoutRequest, bool, error) {
	var (
		result  *BuildoutRequest
		created bool
	)
	err := w.repo.Transaction(ctx, func(tx Repository) error {
		existing, err := tx.FindOpenRequest(ctx, in.CoverageAreaID, in.AddressID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		req := &BuildoutRequest{
			QualificationID: ptr(in.QualificationID),
			CoverageAreaID:  ptr(in.CoverageAreaID),
			AddressID:       ptr(in.AddressID),
			RequestedBy:     SystemActor,
			Status:          RequestSubmitted,
			Notes:           AutoRequestNote,
		}
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}
		result, created = req, true
		return nil
	})
	if errors.Is(err, ErrOpenRequestExists) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if created {
		w.metrics.RequestOpened("system")
	}
	return result, created, nil
}

type CreateRequestInput struct {
	QualificationID *uuid.UUID     `json:"qualification_id,omitempty"`
	CoverageAreaID  *uuid.UUID     `json:"coverage_area_id,omitempty"`
	AddressID       *uuid.UUID     `json:"address_id,omitempty"`
	RequestedBy     string         `json:"requested_by,omitempty"`
	Status          *RequestStatus `json:"status,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// CreateRequest opens a request on behalf of an operator. Unlike automatic
// creation, a duplicate open request is reported as ErrOpenRequestExists.
func (w *Workflow) CreateRequest(ctx context.Context, in CreateRequestInput, actor string) (*BuildoutRequest, error) {
	if in.Status != nil && *in.Status != RequestSubmitted {
		return nil, fmt.Errorf("%w: new requests start as %s", ErrInvalidStatus, RequestSubmitted)
	}
	req := &BuildoutRequest{
		QualificationID: in.QualificationID,
		CoverageAreaID:  in.CoverageAreaID,
		AddressID:       in.AddressID,
		RequestedBy:     strings.TrimSpace(in.RequestedBy),
		Status:          RequestSubmitted,
		Notes:           in.Notes,
	}
	if req.RequestedBy == "" {
		req.RequestedBy = actor
	}

	err := w.repo.Transaction(ctx, func(tx Repository) error {
		if req.CoverageAreaID != nil && req.AddressID != nil {
			existing, err := tx.FindOpenRequest(ctx, *req.CoverageAreaID, *req.AddressID)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", ErrOpenRequestExists, existing.ID)
			}
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	w.metrics.RequestOpened("operator")
	return req, nil
}

type UpdateRequestInput struct {
	Notes       *string        `json:"notes,omitempty"`
	RequestedBy *string        `json:"requested_by,omitempty"`
	Status      *RequestStatus `json:"status,omitempty"`
}

// UpdateRequest edits the descriptive fields of a request.
func (w *Workflow) UpdateRequest(ctx context.Context, id uuid.UUID, in UpdateRequestInput) (*BuildoutRequest, error) {
	req, err := w.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && *in.Status != req.Status {
		return nil, ErrStatusNotEditable
	}
	if in.Notes != nil {
		req.Notes = *in.Notes
	}
	if in.RequestedBy != nil {
		req.RequestedBy = strings.TrimSpace(*in.RequestedBy)
	}
	if err := w.repo.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

type ApproveInput struct {
	TargetReadyDate *time.Time `json:"target_ready_date,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

type ApproveResult struct {
	Request *BuildoutRequest `json:"request"`
	Project *BuildoutProject `json:"project"`
	// Created is false when the request was already approved.
	Created bool `json:"created"`
}

// Approve moves a submitted request to approved and creates its project and
// the first update log entry in one transaction. Approving an approved
// request returns its existing project.
func (w *Workflow) Approve(ctx context.Context, id uuid.UUID, in ApproveInput, actor string) (*ApproveResult, error) {
	var res ApproveResult
	err := w.repo.Transaction(ctx, func(tx Repository) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}

		switch req.Status {
		case RequestApproved:
			project, err := tx.GetProjectByRequest(ctx, req.ID)
			if err == nil {
				res = ApproveResult{Request: req, Project: project}
				return nil
			}
			if !errors.Is(err, ErrProjectNotFound) {
				return err
			}
			// Approved without a project: finish the approval below.
		case RequestSubmitted:
		default:
			return fmt.Errorf("%w: cannot approve a %s request", ErrInvalidTransition, req.Status)
		}

		now := w.now()
		req.Status = RequestApproved
		req.DecidedBy = optional(actor)
		req.DecidedAt = &now
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}

		project := &BuildoutProject{
			RequestID:       ptr(req.ID),
			CoverageAreaID:  req.CoverageAreaID,
			AddressID:       req.AddressID,
			Status:          ProjectPlanned,
			ProgressPercent: 0,
			TargetReadyDate: in.TargetReadyDate,
			Notes:           in.Notes,
		}
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		if err := tx.AppendUpdate(ctx, &BuildoutUpdate{
			ProjectID: project.ID,
			Status:    ProjectPlanned,
			Message:   approvedMessage,
			Author:    actor,
		}); err != nil {
			return err
		}

		res = ApproveResult{Request: req, Project: project, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Created {
		w.metrics.RequestTransition(string(RequestApproved))
		w.metrics.ProjectUpdated(string(ProjectPlanned))
	}
	return &res, nil
}

// Reject closes a submitted request. Rejecting a rejected request is a no-op.
func (w *Workflow) Reject(ctx context.Context, id uuid.UUID, note, actor string) (*BuildoutRequest, bool, error) {
	return w.close(ctx, id, RequestRejected, note, actor)
}

// Cancel closes a submitted request. Canceling a canceled request is a no-op.
func (w *Workflow) Cancel(ctx context.Context, id uuid.UUID, note, actor string) (*BuildoutRequest, bool, error) {
	return w.close(ctx, id, RequestCanceled, note, actor)
}

func (w *Workflow) close(ctx context.Context, id uuid.UUID, to RequestStatus, note, actor string) (*BuildoutRequest, bool, error) {
	var (
		req     *BuildoutRequest
		changed bool
	)
	err := w.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		req, err = tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status == to {
			return nil
		}
		if req.Status != RequestSubmitted {
			return fmt.Errorf("%w: cannot move a %s request to %s", ErrInvalidTransition, req.Status, to)
		}

		now := w.now()
		req.Status = to
		req.DecidedBy = optional(actor)
		req.DecidedAt = &now
		if note = strings.TrimSpace(note); note != "" {
			if req.Notes != "" {
				req.Notes += "\n"
			}
			req.Notes += note
		}
		changed = true
		return tx.SaveRequest(ctx, req)
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		w.metrics.RequestTransition(string(to))
	}
	return req, changed, nil
}

type CreateProjectInput struct {
	CoverageAreaID  *uuid.UUID     `json:"coverage_area_id,omitempty"`
	AddressID       *uuid.UUID     `json:"address_id,omitempty"`
	Status          *ProjectStatus `json:"status,omitempty"`
	ProgressPercent *int           `json:"progress_percent,omitempty"`
	TargetReadyDate *time.Time     `json:"target_ready_date,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// CreateProject creates a project without a request and logs its creation.
func (w *Workflow) CreateProject(ctx context.Context, in CreateProjectInput, actor string) (*BuildoutProject, error) {
	project := &BuildoutProject{
		CoverageAreaID:  in.CoverageAreaID,
		AddressID:       in.AddressID,
		Status:          ProjectPlanned,
		TargetReadyDate: in.TargetReadyDate,
		Notes:           in.Notes,
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *in.Status)
		}
		project.Status = *in.Status
	}
	if in.ProgressPercent != nil {
		if err := validateProgress(*in.ProgressPercent); err != nil {
			return nil, err
		}
		project.ProgressPercent = *in.ProgressPercent
	}
	w.stamp(project)

	err := w.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		return tx.AppendUpdate(ctx, &BuildoutUpdate{
			ProjectID: project.ID,
			Status:    project.Status,
			Message:   projectCreatedMessage,
			Author:    actor,
		})
	})
	if err != nil {
		return nil, err
	}
	w.metrics.ProjectUpdated(string(project.Status))
	return project, nil
}

type UpdateProjectInput struct {
	Status          *ProjectStatus `json:"status,omitempty"`
	ProgressPercent *int           `json:"progress_percent,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	TargetReadyDate *time.Time     `json:"target_ready_date,omitempty"`
}

// UpdateProject applies in and appends exactly one log entry when status,
// progress or notes changed. Any status may move to any other.
func (w *Workflow) UpdateProject(ctx context.Context, id uuid.UUID, in UpdateProjectInput, actor string) (*BuildoutProject, *BuildoutUpdate, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *in.Status)
	}
	if in.ProgressPercent != nil {
		if err := validateProgress(*in.ProgressPercent); err != nil {
			return nil, nil, err
		}
	}

	var (
		project *BuildoutProject
		entry   *BuildoutUpdate
	)
	err := w.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		project, err = tx.GetProject(ctx, id)
		if err != nil {
			return err
		}

		logged := false
		if in.Status != nil && *in.Status != project.Status {
			project.Status = *in.Status
			logged = true
		}
		if in.ProgressPercent != nil && *in.ProgressPercent != project.ProgressPercent {
			project.ProgressPercent = *in.ProgressPercent
			logged = true
		}
		if in.Notes != nil && *in.Notes != project.Notes {
			project.Notes = *in.Notes
			logged = true
		}
		if in.TargetReadyDate != nil {
			project.TargetReadyDate = in.TargetReadyDate
		}
		w.stamp(project)

		if err := tx.SaveProject(ctx, project); err != nil {
			return err
		}
		if !logged {
			return nil
		}

		message := projectUpdatedMessage
		if in.Notes != nil && strings.TrimSpace(*in.Notes) != "" {
			message = strings.TrimSpace(*in.Notes)
		}
		entry = &BuildoutUpdate{
			ProjectID: project.ID,
			Status:    project.Status,
			Message:   message,
			Author:    actor,
		}
		return tx.AppendUpdate(ctx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		w.metrics.ProjectUpdated(string(entry.Status))
	}
	return project, entry, nil
}

// stamp records when a project first started and first completed. It never
// constrains which status comes next.
func (w *Workflow) stamp(p *BuildoutProject) {
	now := w.now()
	switch p.Status {
	case ProjectInProgress:
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
	case ProjectCompleted:
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
	}
}

// DeleteProject removes a project. Projects that still own milestones are
// only removed with cascade, together with their milestones and log.
func (w *Workflow) DeleteProject(ctx context.Context, id uuid.UUID, cascade bool) error {
	return w.repo.Transaction(ctx, func(tx Repository) error {
		if _, err := tx.GetProject(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountMilestones(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 && !cascade {
			return fmt.Errorf("%w (%d milestones)", ErrProjectHasMilestones, n)
		}
		return tx.DeleteProject(ctx, id)
	})
}

type MilestoneInput struct {
	Name       *string          `json:"name,omitempty"`
	Status     *MilestoneStatus `json:"status,omitempty"`
	OrderIndex *int             `json:"order_index,omitempty"`
	DueAt      *time.Time       `json:"due_at,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
}

func (w *Workflow) applyMilestone(m *BuildoutMilestone, in MilestoneInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return ErrNameRequired
		}
		m.Name = name
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, *in.Status)
		}
		m.Status = *in.Status
	}
	if in.OrderIndex != nil {
		m.OrderIndex = *in.OrderIndex
	}
	if in.DueAt != nil {
		m.DueAt = in.DueAt
	}
	if in.Notes != nil {
		m.Notes = *in.Notes
	}

	switch {
	case m.Status == MilestoneCompleted && m.CompletedAt == nil:
		now := w.now()
		m.CompletedAt = &now
	case m.Status != MilestoneCompleted:
		m.CompletedAt = nil
	}
	return nil
}

// CreateMilestone adds a checklist item to a project. Milestones never
// change the project's status or progress.
func (w *Workflow) CreateMilestone(ctx context.Context, projectID uuid.UUID, in MilestoneInput) (*BuildoutMilestone, error) {
	if in.Name == nil {
		return nil, ErrNameRequired
	}
	m := &BuildoutMilestone{ProjectID: projectID, Status: MilestonePending}
	if err := w.applyMilestone(m, in); err != nil {
		return nil, err
	}
	if _, err := w.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := w.repo.CreateMilestone(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *Workflow) UpdateMilestone(ctx context.Context, id uuid.UUID, in MilestoneInput) (*BuildoutMilestone, error) {
	m, err := w.repo.GetMilestone(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := w.applyMilestone(m, in); err != nil {
		return nil, err
	}
	if err := w.repo.SaveMilestone(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *Workflow) DeleteMilestone(ctx context.Context, id uuid.UUID) error {
	return w.repo.DeleteMilestone(ctx, id)
}

// PostUpdate appends an operator-written log entry that snapshots the
// project's current status.
func (w *Workflow) PostUpdate(ctx context.Context, projectID uuid.UUID, message, actor string) (*BuildoutUpdate, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrMessageRequired
	}
	project, err := w.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	u := &BuildoutUpdate{
		ProjectID: project.ID,
		Status:    project.Status,
		Message:   message,
		Author:    actor,
	}
	if err := w.repo.AppendUpdate(ctx, u); err != nil {
		return nil, err
	}
	w.metrics.ProjectUpdated(string(u.Status))
	return u, nil
}

func validateProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidProgress, p)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
