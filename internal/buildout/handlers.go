package buildout

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/events"
	"github.com/openisp/ops-backend/internal/listing"
	"github.com/openisp/ops-backend/internal/utils"
)

type Handler struct {
	wf        *Workflow
	publisher events.Publisher
	log       *slog.Logger
}

func NewHandler(wf *Workflow, publisher events.Publisher, logger *slog.Logger) *Handler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Handler{wf: wf, publisher: publisher, log: logger.With("component", "buildout")}
}

func actor(r *http.Request) string {
	if op, ok := utils.GetOperatorFromContext(r.Context()); ok {
		return op
	}
	return "operator"
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		utils.LoggerFromContext(r.Context(), h.log).Error(op+" failed", "error", err)
	}
	apperr.Write(w, err)
}

// publish runs after the workflow call returned, so after its commit.
func (h *Handler) publish(ctx context.Context, ev events.Event) {
	events.PublishLogged(ctx, h.publisher, utils.LoggerFromContext(ctx, h.log), ev)
}

func requestEvent(typ string, req *BuildoutRequest, by string) events.Event {
	return events.Event{
		Type:           typ,
		RequestID:      &req.ID,
		CoverageAreaID: req.CoverageAreaID,
		AddressID:      req.AddressID,
		Status:         string(req.Status),
		Actor:          by,
	}
}

func projectEvent(p *BuildoutProject, by string) events.Event {
	return events.Event{
		Type:           events.ProjectUpdated,
		RequestID:      p.RequestID,
		ProjectID:      &p.ID,
		CoverageAreaID: p.CoverageAreaID,
		AddressID:      p.AddressID,
		Status:         string(p.Status),
		Actor:          by,
	}
}

// --- Requests ---

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var in CreateRequestInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	by := actor(r)
	req, err := h.wf.CreateRequest(r.Context(), in, by)
	if err != nil {
		h.fail(w, r, "create buildout request", err)
		return
	}
	h.publish(r.Context(), requestEvent(events.RequestOpened, req, by))
	apperr.RespondJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	p, err := listing.Parse(r.URL.Query(), RequestListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out, err := h.wf.Repository().ListRequests(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list buildout requests", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	req, err := h.wf.Repository().GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get buildout request", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, req)
}

func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in UpdateRequestInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	req, err := h.wf.UpdateRequest(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update buildout request", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, req)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in ApproveInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}

	by := actor(r)
	res, err := h.wf.Approve(r.Context(), id, in, by)
	if err != nil {
		h.fail(w, r, "approve buildout request", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		ev := requestEvent(events.RequestApproved, res.Request, by)
		ev.ProjectID = &res.Project.ID
		h.publish(r.Context(), ev)
	}
	apperr.RespondJSON(w, status, res)
}

type closeInput struct {
	Notes string `json:"notes,omitempty"`
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.wf.Reject, events.RequestRejected)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.wf.Cancel, events.RequestCanceled)
}

type closeFunc func(ctx context.Context, id uuid.UUID, note, actor string) (*BuildoutRequest, bool, error)

func (h *Handler) closeRequest(w http.ResponseWriter, r *http.Request, fn closeFunc, eventType string) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in closeInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}

	by := actor(r)
	req, changed, err := fn(r.Context(), id, in.Notes, by)
	if err != nil {
		h.fail(w, r, "close buildout request", err)
		return
	}
	if changed {
		h.publish(r.Context(), requestEvent(eventType, req, by))
	}
	apperr.RespondJSON(w, http.StatusOK, req)
}

// --- Projects ---

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var in CreateProjectInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	by := actor(r)
	project, err := h.wf.CreateProject(r.Context(), in, by)
	if err != nil {
		h.fail(w, r, "create buildout project", err)
		return
	}
	h.publish(r.Context(), projectEvent(project, by))
	apperr.RespondJSON(w, http.StatusCreated, project)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	p, err := listing.Parse(r.URL.Query(), ProjectListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out, err := h.wf.Repository().ListProjects(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list buildout projects", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	project, err := h.wf.Repository().GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get buildout project", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, project)
}

type updateProjectResponse struct {
	Project *BuildoutProject `json:"project"`
	Update  *BuildoutUpdate  `json:"update,omitempty"`
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in UpdateProjectInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}

	by := actor(r)
	project, entry, err := h.wf.UpdateProject(r.Context(), id, in, by)
	if err != nil {
		h.fail(w, r, "update buildout project", err)
		return
	}
	if entry != nil {
		h.publish(r.Context(), projectEvent(project, by))
	}
	apperr.RespondJSON(w, http.StatusOK, updateProjectResponse{Project: project, Update: entry})
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	cascade := false
	if s := r.URL.Query().Get("cascade"); s != "" {
		cascade, err = strconv.ParseBool(s)
		if err != nil {
			apperr.WriteMessage(w, http.StatusBadRequest, "cascade must be a boolean")
			return
		}
	}
	if err := h.wf.DeleteProject(r.Context(), id, cascade); err != nil {
		h.fail(w, r, "delete buildout project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Update log ---

func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	projectID, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	p, err := listing.Parse(r.URL.Query(), UpdateListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if _, err := h.wf.Repository().GetProject(r.Context(), projectID); err != nil {
		h.fail(w, r, "get buildout project", err)
		return
	}
	out, err := h.wf.Repository().ListUpdates(r.Context(), p.Scoped("project_id", projectID.String()))
	if err != nil {
		h.fail(w, r, "list buildout updates", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, out)
}

type postUpdateInput struct {
	Message string `json:"message"`
}

func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	projectID, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in postUpdateInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}

	by := actor(r)
	entry, err := h.wf.PostUpdate(r.Context(), projectID, in.Message, by)
	if err != nil {
		h.fail(w, r, "post buildout update", err)
		return
	}
	h.publish(r.Context(), events.Event{
		Type:      events.ProjectUpdated,
		ProjectID: &entry.ProjectID,
		Status:    string(entry.Status),
		Actor:     by,
	})
	apperr.RespondJSON(w, http.StatusCreated, entry)
}

// --- Milestones ---

func (h *Handler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	projectID, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	p, err := listing.Parse(r.URL.Query(), MilestoneListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if _, err := h.wf.Repository().GetProject(r.Context(), projectID); err != nil {
		h.fail(w, r, "get buildout project", err)
		return
	}
	out, err := h.wf.Repository().ListMilestones(r.Context(), p.Scoped("project_id", projectID.String()))
	if err != nil {
		h.fail(w, r, "list milestones", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateMilestone(w http.ResponseWriter, r *http.Request) {
	projectID, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in MilestoneInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	m, err := h.wf.CreateMilestone(r.Context(), projectID, in)
	if err != nil {
		h.fail(w, r, "create milestone", err)
		return
	}
	apperr.RespondJSON(w, http.StatusCreated, m)
}

func (h *Handler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	m, err := h.wf.Repository().GetMilestone(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get milestone", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) UpdateMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in MilestoneInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	m, err := h.wf.UpdateMilestone(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update milestone", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.wf.DeleteMilestone(r.Context(), id); err != nil {
		h.fail(w, r, "delete milestone", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
