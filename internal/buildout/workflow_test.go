package buildout_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/buildout/buildouttest"
	"github.com/openisp/ops-backend/internal/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(t *testing.T) (*buildout.Workflow, *buildouttest.Repository) {
	t.Helper()
	repo := buildouttest.New()
	return buildout.NewWorkflow(repo, nil), repo
}

func autoInput() buildout.AutoRequestInput {
	return buildout.AutoRequestInput{
		QualificationID: uuid.New(),
		CoverageAreaID:  uuid.New(),
		AddressID:       uuid.New(),
	}
}

func submitted(t *testing.T, wf *buildout.Workflow) *buildout.BuildoutRequest {
	t.Helper()
	req, created, err := wf.OpenAutomaticRequest(context.Background(), autoInput())
	require.NoError(t, err)
	require.True(t, created)
	return req
}

func TestOpenAutomaticRequest(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	in := autoInput()

	first, created, err := wf.OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, buildout.RequestSubmitted, first.Status)
	assert.Equal(t, buildout.SystemActor, first.RequestedBy)
	assert.Equal(t, buildout.AutoRequestNote, first.Notes)
	assert.Equal(t, in.QualificationID, *first.QualificationID)

	// A second check at the same location reuses the open request.
	in.QualificationID = uuid.New()
	second, created, err := wf.OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	requests, _, _, _ := repo.Counts()
	assert.Equal(t, 1, requests)
}

func TestOpenAutomaticRequest_AfterClose(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	in := autoInput()

	first, _, err := wf.OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	_, _, err = wf.Reject(ctx, first.ID, "", "alice")
	require.NoError(t, err)

	second, created, err := wf.OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	requests, _, _, _ := repo.Counts()
	assert.Equal(t, 2, requests)
}

// racingRepo hides existing open requests from FindOpenRequest, as if a
// concurrent transaction committed between the lookup and the insert.
type racingRepo struct {
	*buildouttest.Repository
}

func (r racingRepo) Transaction(ctx context.Context, fn func(tx buildout.Repository) error) error {
	return r.Repository.Transaction(ctx, func(buildout.Repository) error { return fn(r) })
}

func (racingRepo) FindOpenRequest(context.Context, uuid.UUID, uuid.UUID) (*buildout.BuildoutRequest, error) {
	return nil, nil
}

func TestOpenAutomaticRequest_LosesRace(t *testing.T) {
	ctx := context.Background()
	mem := buildouttest.New()
	in := autoInput()

	_, created, err := buildout.NewWorkflow(mem, nil).OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	req, created, err := buildout.NewWorkflow(racingRepo{mem}, nil).OpenAutomaticRequest(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, req)

	requests, _, _, _ := mem.Counts()
	assert.Equal(t, 1, requests)
}

func TestCreateRequest(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	area, addr := uuid.New(), uuid.New()

	req, err := wf.CreateRequest(ctx, buildout.CreateRequestInput{
		CoverageAreaID: &area,
		AddressID:      &addr,
		Notes:          "customer called twice",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", req.RequestedBy)
	assert.Equal(t, buildout.RequestSubmitted, req.Status)

	_, err = wf.CreateRequest(ctx, buildout.CreateRequestInput{CoverageAreaID: &area, AddressID: &addr}, "bob")
	require.ErrorIs(t, err, buildout.ErrOpenRequestExists)
	assert.Equal(t, 409, apperr.Status(err))

	approved := buildout.RequestApproved
	_, err = wf.CreateRequest(ctx, buildout.CreateRequestInput{Status: &approved}, "bob")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestUpdateRequest(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	req := submitted(t, wf)

	notes := "verified with landlord"
	updated, err := wf.UpdateRequest(ctx, req.ID, buildout.UpdateRequestInput{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, buildout.RequestSubmitted, updated.Status)

	approved := buildout.RequestApproved
	_, err = wf.UpdateRequest(ctx, req.ID, buildout.UpdateRequestInput{Status: &approved})
	assert.ErrorIs(t, err, buildout.ErrStatusNotEditable)

	_, err = wf.UpdateRequest(ctx, uuid.New(), buildout.UpdateRequestInput{Notes: &notes})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	req := submitted(t, wf)

	res, err := wf.Approve(ctx, req.ID, buildout.ApproveInput{}, "alice")
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Equal(t, buildout.RequestApproved, res.Request.Status)
	require.NotNil(t, res.Request.DecidedBy)
	assert.Equal(t, "alice", *res.Request.DecidedBy)
	assert.NotNil(t, res.Request.DecidedAt)

	project := res.Project
	assert.Equal(t, req.ID, *project.RequestID)
	assert.Equal(t, *req.CoverageAreaID, *project.CoverageAreaID)
	assert.Equal(t, *req.AddressID, *project.AddressID)
	assert.Equal(t, buildout.ProjectPlanned, project.Status)
	assert.Equal(t, 0, project.ProgressPercent)

	updates, err := repo.ListUpdates(ctx, listing.Params{OrderColumn: "created_at", Limit: 10}.Scoped("project_id", project.ID.String()))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "Buildout approved", updates[0].Message)
	assert.Equal(t, buildout.ProjectPlanned, updates[0].Status)
	assert.Equal(t, "alice", updates[0].Author)
}

func TestApprove_Idempotent(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	req := submitted(t, wf)

	first, err := wf.Approve(ctx, req.ID, buildout.ApproveInput{}, "alice")
	require.NoError(t, err)

	again, err := wf.Approve(ctx, req.ID, buildout.ApproveInput{}, "bob")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Project.ID, again.Project.ID)
	assert.Equal(t, "alice", *again.Request.DecidedBy)

	_, projects, _, updates := repo.Counts()
	assert.Equal(t, 1, projects)
	assert.Equal(t, 1, updates)
}

func TestApprove_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	req := submitted(t, wf)

	repo.FailAppendUpdate = errors.New("disk full")
	_, err := wf.Approve(ctx, req.ID, buildout.ApproveInput{}, "alice")
	require.Error(t, err)

	stored, err := repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, buildout.RequestSubmitted, stored.Status)
	assert.Nil(t, stored.DecidedAt)

	_, projects, _, updates := repo.Counts()
	assert.Zero(t, projects)
	assert.Zero(t, updates)

	// The same approval succeeds once the store recovers.
	repo.FailAppendUpdate = nil
	res, err := wf.Approve(ctx, req.ID, buildout.ApproveInput{}, "alice")
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestApprove_ClosedRequests(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)

	rejected := submitted(t, wf)
	_, _, err := wf.Reject(ctx, rejected.ID, "", "alice")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, rejected.ID, buildout.ApproveInput{}, "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidTransition)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	canceled := submitted(t, wf)
	_, _, err = wf.Cancel(ctx, canceled.ID, "", "alice")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, canceled.ID, buildout.ApproveInput{}, "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidTransition)

	_, err = wf.Approve(ctx, uuid.New(), buildout.ApproveInput{}, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)

	req := submitted(t, wf)
	rejected, changed, err := wf.Reject(ctx, req.ID, "  outside franchise  ", "alice")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, buildout.RequestRejected, rejected.Status)
	assert.Equal(t, buildout.AutoRequestNote+"\noutside franchise", rejected.Notes)

	again, changed, err := wf.Reject(ctx, req.ID, "twice", "bob")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, rejected.Notes, again.Notes)

	_, _, err = wf.Cancel(ctx, req.ID, "", "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidTransition)

	approved := submitted(t, wf)
	_, err = wf.Approve(ctx, approved.ID, buildout.ApproveInput{}, "alice")
	require.NoError(t, err)
	_, _, err = wf.Cancel(ctx, approved.ID, "", "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidTransition)
	_, _, err = wf.Reject(ctx, approved.ID, "", "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidTransition)

	canceled := submitted(t, wf)
	out, changed, err := wf.Cancel(ctx, canceled.ID, "", "alice")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, buildout.RequestCanceled, out.Status)
}

func approvedProject(t *testing.T, wf *buildout.Workflow) *buildout.BuildoutProject {
	t.Helper()
	req := submitted(t, wf)
	res, err := wf.Approve(context.Background(), req.ID, buildout.ApproveInput{}, "alice")
	require.NoError(t, err)
	return res.Project
}

func projectUpdates(t *testing.T, repo buildout.Repository, projectID uuid.UUID) []buildout.BuildoutUpdate {
	t.Helper()
	p, err := listing.Parse(url.Values{}, buildout.UpdateListSpec)
	require.NoError(t, err)
	out, err := repo.ListUpdates(context.Background(), p.Scoped("project_id", projectID.String()))
	require.NoError(t, err)
	return out
}

func TestUpdateProject_LogsOneEntry(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	status := buildout.ProjectInProgress
	progress := 40
	updated, entry, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{
		Status:          &status,
		ProgressPercent: &progress,
	}, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, buildout.ProjectInProgress, updated.Status)
	assert.Equal(t, 40, updated.ProgressPercent)
	assert.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)
	assert.Equal(t, "Project updated", entry.Message)
	assert.Equal(t, buildout.ProjectInProgress, entry.Status)
	assert.Equal(t, "bob", entry.Author)

	log := projectUpdates(t, repo, project.ID)
	require.Len(t, log, 2)
	assert.Equal(t, "Buildout approved", log[0].Message)
	assert.Equal(t, "Project updated", log[1].Message)
}

func TestUpdateProject_NotesBecomeMessage(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	project := approvedProject(t, wf)

	notes := "  trenching permit granted  "
	_, entry, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{Notes: &notes}, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "trenching permit granted", entry.Message)
	assert.Equal(t, buildout.ProjectPlanned, entry.Status)
}

func TestUpdateProject_NoChangeNoEntry(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	status := buildout.ProjectPlanned
	progress := 0
	_, entry, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{
		Status:          &status,
		ProgressPercent: &progress,
	}, "bob")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Len(t, projectUpdates(t, repo, project.ID), 1)
}

func TestUpdateProject_AnyTransition(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	project := approvedProject(t, wf)

	completed := buildout.ProjectCompleted
	done, _, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{Status: &completed}, "bob")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.StartedAt)
	completedAt := *done.CompletedAt

	planned := buildout.ProjectPlanned
	back, entry, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{Status: &planned}, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, buildout.ProjectPlanned, back.Status)
	assert.Equal(t, completedAt, *back.CompletedAt)
}

func TestUpdateProject_Validation(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	project := approvedProject(t, wf)

	tooMuch := 101
	_, _, err := wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{ProgressPercent: &tooMuch}, "bob")
	assert.ErrorIs(t, err, buildout.ErrInvalidProgress)

	negative := -1
	_, _, err = wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{ProgressPercent: &negative}, "bob")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	bogus := buildout.ProjectStatus("paused")
	_, _, err = wf.UpdateProject(ctx, project.ID, buildout.UpdateProjectInput{Status: &bogus}, "bob")
	assert.ErrorIs(t, err, buildout.ErrInvalidStatus)

	_, _, err = wf.UpdateProject(ctx, uuid.New(), buildout.UpdateProjectInput{}, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateProject(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	area := uuid.New()

	status := buildout.ProjectInProgress
	progress := 10
	project, err := wf.CreateProject(ctx, buildout.CreateProjectInput{
		CoverageAreaID:  &area,
		Status:          &status,
		ProgressPercent: &progress,
	}, "alice")
	require.NoError(t, err)
	assert.Nil(t, project.RequestID)
	assert.NotNil(t, project.StartedAt)

	log := projectUpdates(t, repo, project.ID)
	require.Len(t, log, 1)
	assert.Equal(t, "Project created", log[0].Message)

	bad := 250
	_, err = wf.CreateProject(ctx, buildout.CreateProjectInput{ProgressPercent: &bad}, "alice")
	assert.ErrorIs(t, err, buildout.ErrInvalidProgress)
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	name := "Permits"
	_, err := wf.CreateMilestone(ctx, project.ID, buildout.MilestoneInput{Name: &name})
	require.NoError(t, err)

	err = wf.DeleteProject(ctx, project.ID, false)
	require.ErrorIs(t, err, buildout.ErrProjectHasMilestones)
	assert.Equal(t, 409, apperr.Status(err))

	require.NoError(t, wf.DeleteProject(ctx, project.ID, true))
	_, projects, milestones, updates := repo.Counts()
	assert.Zero(t, projects)
	assert.Zero(t, milestones)
	assert.Zero(t, updates)

	assert.ErrorIs(t, wf.DeleteProject(ctx, project.ID, true), apperr.ErrNotFound)
}

func TestDeleteProject_WithoutMilestones(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	require.NoError(t, wf.DeleteProject(ctx, project.ID, false))
	_, projects, _, updates := repo.Counts()
	assert.Zero(t, projects)
	assert.Zero(t, updates)
}

func TestMilestones(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	create := func(name string, order int) *buildout.BuildoutMilestone {
		m, err := wf.CreateMilestone(ctx, project.ID, buildout.MilestoneInput{Name: &name, OrderIndex: &order})
		require.NoError(t, err)
		return m
	}
	splice := create("Splice", 2)
	survey := create("Survey", 1)
	permits := create("Permits", 1)
	assert.Equal(t, buildout.MilestonePending, survey.Status)

	p, err := listing.Parse(url.Values{}, buildout.MilestoneListSpec)
	require.NoError(t, err)
	list, err := repo.ListMilestones(ctx, p.Scoped("project_id", project.ID.String()))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uuid.UUID{survey.ID, permits.ID, splice.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})

	completed := buildout.MilestoneCompleted
	done, err := wf.UpdateMilestone(ctx, survey.ID, buildout.MilestoneInput{Status: &completed})
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)

	reopened := buildout.MilestoneInProgress
	back, err := wf.UpdateMilestone(ctx, survey.ID, buildout.MilestoneInput{Status: &reopened})
	require.NoError(t, err)
	assert.Nil(t, back.CompletedAt)

	// Milestones never drive the project.
	stored, err := repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, buildout.ProjectPlanned, stored.Status)
	assert.Equal(t, 0, stored.ProgressPercent)

	require.NoError(t, wf.DeleteMilestone(ctx, splice.ID))
	assert.ErrorIs(t, wf.DeleteMilestone(ctx, splice.ID), apperr.ErrNotFound)
}

func TestMilestones_Validation(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(t)
	project := approvedProject(t, wf)

	_, err := wf.CreateMilestone(ctx, project.ID, buildout.MilestoneInput{})
	assert.ErrorIs(t, err, buildout.ErrNameRequired)

	blank := "   "
	_, err = wf.CreateMilestone(ctx, project.ID, buildout.MilestoneInput{Name: &blank})
	assert.ErrorIs(t, err, buildout.ErrNameRequired)

	name := "Survey"
	bogus := buildout.MilestoneStatus("done")
	_, err = wf.CreateMilestone(ctx, project.ID, buildout.MilestoneInput{Name: &name, Status: &bogus})
	assert.ErrorIs(t, err, buildout.ErrInvalidStatus)

	_, err = wf.CreateMilestone(ctx, uuid.New(), buildout.MilestoneInput{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostUpdate(t *testing.T) {
	ctx := context.Background()
	wf, repo := newWorkflow(t)
	project := approvedProject(t, wf)

	entry, err := wf.PostUpdate(ctx, project.ID, "Crew scheduled for Monday", "carol")
	require.NoError(t, err)
	assert.Equal(t, buildout.ProjectPlanned, entry.Status)
	assert.Equal(t, "carol", entry.Author)

	_, err = wf.PostUpdate(ctx, project.ID, "  ", "carol")
	assert.ErrorIs(t, err, buildout.ErrMessageRequired)

	_, err = wf.PostUpdate(ctx, uuid.New(), "hello", "carol")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Len(t, projectUpdates(t, repo, project.ID), 2)
}
