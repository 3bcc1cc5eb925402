package qualification

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/events"
	"github.com/openisp/ops-backend/internal/listing"
	"github.com/openisp/ops-backend/internal/utils"
)

var ErrImmutableField = fmt.Errorf("only metadata can be changed on a qualification: %w", apperr.ErrInvalidInput)

type Handler struct {
	runner    TxRunner
	repo      Repository
	publisher events.Publisher
	log       *slog.Logger
}

func NewHandler(runner TxRunner, repo Repository, publisher events.Publisher, logger *slog.Logger) *Handler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Handler{
		runner:    runner,
		repo:      repo,
		publisher: publisher,
		log:       logger.With("component", "qualification"),
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		utils.LoggerFromContext(r.Context(), h.log).Error(op+" failed", "error", err)
	}
	apperr.Write(w, err)
}

type checkResponse struct {
	*ServiceQualification
	BuildoutRequestID      *uuid.UUID `json:"buildout_request_id,omitempty"`
	BuildoutRequestCreated bool       `json:"buildout_request_created"`
}

// Check handles POST /qualifications/check.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, err)
		return
	}

	ctx := r.Context()
	var res *Result
	err := h.runner.RunInTx(ctx, func(e *Engine) error {
		var err error
		res, err = e.Check(ctx, req)
		return err
	})
	if err != nil {
		h.fail(w, r, "qualification check", err)
		return
	}

	q := res.Qualification
	utils.LoggerFromContext(ctx, h.log).Info("qualification decided",
		"qualification_id", q.ID,
		"status", q.Status,
		"reasons", strings.Join(q.Reasons, ","),
		"matches", len(res.Matches),
	)

	out := checkResponse{ServiceQualification: q, BuildoutRequestCreated: res.RequestCreated}
	if res.BuildoutRequest != nil {
		out.BuildoutRequestID = &res.BuildoutRequest.ID
	}
	if res.RequestCreated {
		br := res.BuildoutRequest
		events.PublishLogged(ctx, h.publisher, utils.LoggerFromContext(ctx, h.log), events.Event{
			Type:           events.RequestOpened,
			RequestID:      &br.ID,
			CoverageAreaID: br.CoverageAreaID,
			AddressID:      br.AddressID,
			Status:         string(br.Status),
			Actor:          buildout.SystemActor,
		})
	}
	apperr.RespondJSON(w, http.StatusCreated, out)
}

// List handles GET /qualifications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if tech := q.Get("requested_tech"); tech != "" {
		q.Set("requested_tech", coverage.NormalizeTech(tech))
	}
	p, err := listing.Parse(q, ListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out, err := h.repo.ListQualifications(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list qualifications", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, out)
}

// Get handles GET /qualifications/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	q, err := h.repo.GetQualification(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get qualification", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, q)
}

// UpdateMetadata handles PATCH /qualifications/{id}. Decision fields are
// write-once, so any key other than metadata is rejected.
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var body map[string]json.RawMessage
	if err := utils.DecodeJSON(w, r, &body); err != nil {
		apperr.Write(w, err)
		return
	}

	var extra []string
	for k := range body {
		if k != "metadata" {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		apperr.Write(w, fmt.Errorf("%w: %s", ErrImmutableField, strings.Join(extra, ", ")))
		return
	}
	raw, ok := body["metadata"]
	if !ok {
		apperr.Write(w, fmt.Errorf("metadata is required: %w", apperr.ErrInvalidInput))
		return
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		apperr.Write(w, fmt.Errorf("metadata must be an object: %w", apperr.ErrInvalidInput))
		return
	}

	q, err := h.repo.UpdateMetadata(r.Context(), id, m)
	if err != nil {
		h.fail(w, r, "update qualification metadata", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, q)
}

type addressInput struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// CreateAddress handles POST /addresses.
func (h *Handler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	var in addressInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	if strings.TrimSpace(in.Line1) == "" {
		apperr.Write(w, fmt.Errorf("line1 is required: %w", apperr.ErrInvalidInput))
		return
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		apperr.Write(w, fmt.Errorf("latitude and longitude must be sent together: %w", apperr.ErrInvalidInput))
		return
	}
	if in.Latitude != nil {
		if err := coverage.ValidatePoint(*in.Latitude, *in.Longitude); err != nil {
			apperr.Write(w, err)
			return
		}
	}

	a := ServiceAddress{
		Line1:      strings.TrimSpace(in.Line1),
		Line2:      strings.TrimSpace(in.Line2),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
	}
	if err := h.repo.CreateAddress(r.Context(), &a); err != nil {
		h.fail(w, r, "create address", err)
		return
	}
	apperr.RespondJSON(w, http.StatusCreated, a)
}

// GetAddress handles GET /addresses/{id}.
func (h *Handler) GetAddress(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	a, err := h.repo.GetAddress(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get address", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, a)
}
