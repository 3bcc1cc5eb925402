package coverage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/listing"
	"github.com/openisp/ops-backend/internal/utils"
)

var ErrNameRequired = fmt.Errorf("name is required: %w", apperr.ErrInvalidInput)

type Handler struct {
	repo    Repository
	matcher *Matcher
	log     *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, matcher: NewMatcher(repo), log: logger.With("component", "coverage")}
}

// areaInput is the body of create and update requests. Nil fields are left
// untouched on update.
type areaInput struct {
	Name            *string         `json:"name,omitempty"`
	Code            *string         `json:"code,omitempty"`
	ZoneKey         *string         `json:"zone_key,omitempty"`
	Description     *string         `json:"description,omitempty"`
	GeometryGeoJSON json.RawMessage `json:"geometry_geojson,omitempty"`
	BuildoutStatus  *BuildoutStatus `json:"buildout_status,omitempty"`
	Serviceable     *bool           `json:"serviceable,omitempty"`
	Priority        *int            `json:"priority,omitempty"`
	BuildoutWindow  *string         `json:"buildout_window,omitempty"`
	Constraints     *Constraints    `json:"constraints,omitempty"`
	Active          *bool           `json:"active,omitempty"`
}

func (in areaInput) apply(area *CoverageArea) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return ErrNameRequired
		}
		area.Name = name
	}
	if in.Code != nil {
		area.Code = optional(*in.Code)
	}
	if in.ZoneKey != nil {
		area.ZoneKey = optional(*in.ZoneKey)
	}
	if in.Description != nil {
		area.Description = *in.Description
	}
	if len(in.GeometryGeoJSON) > 0 && string(in.GeometryGeoJSON) != "null" {
		if err := area.SetGeometry(in.GeometryGeoJSON); err != nil {
			return err
		}
	}
	if in.BuildoutStatus != nil {
		if !in.BuildoutStatus.Valid() {
			return fmt.Errorf("invalid buildout_status %q: %w", *in.BuildoutStatus, apperr.ErrInvalidInput)
		}
		area.BuildoutStatus = *in.BuildoutStatus
	}
	if in.Serviceable != nil {
		area.Serviceable = *in.Serviceable
	}
	if in.Priority != nil {
		area.Priority = *in.Priority
	}
	if in.BuildoutWindow != nil {
		area.BuildoutWindow = *in.BuildoutWindow
	}
	if in.Constraints != nil {
		c := *in.Constraints
		if c.MaxDistanceKm != nil && *c.MaxDistanceKm < 0 {
			return fmt.Errorf("constraints.max_distance_km must not be negative: %w", apperr.ErrInvalidInput)
		}
		c.Normalize()
		area.Constraints = c
	}
	if in.Active != nil {
		area.Active = *in.Active
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// CreateArea handles POST /coverage-areas.
func (h *Handler) CreateArea(w http.ResponseWriter, r *http.Request) {
	var in areaInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	if in.Name == nil {
		apperr.Write(w, ErrNameRequired)
		return
	}
	if len(in.GeometryGeoJSON) == 0 {
		apperr.Write(w, fmt.Errorf("geometry_geojson is required: %w", apperr.ErrInvalidInput))
		return
	}

	area := CoverageArea{
		BuildoutStatus: StatusPlanned,
		Serviceable:    true,
		Active:         true,
	}
	if err := in.apply(&area); err != nil {
		apperr.Write(w, err)
		return
	}

	if err := h.repo.Create(r.Context(), &area); err != nil {
		h.fail(w, r, "create coverage area", err)
		return
	}
	apperr.RespondJSON(w, http.StatusCreated, area)
}

// ListAreas handles GET /coverage-areas.
func (h *Handler) ListAreas(w http.ResponseWriter, r *http.Request) {
	p, err := listing.Parse(r.URL.Query(), ListSpec)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	areas, err := h.repo.List(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list coverage areas", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, areas)
}

// GetArea handles GET /coverage-areas/{id}.
func (h *Handler) GetArea(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	area, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get coverage area", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, area)
}

// UpdateArea handles PATCH /coverage-areas/{id}. A new geometry recomputes
// the bounding box.
func (h *Handler) UpdateArea(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var in areaInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		apperr.Write(w, err)
		return
	}

	area, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get coverage area", err)
		return
	}
	if err := in.apply(area); err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.repo.Save(r.Context(), area); err != nil {
		h.fail(w, r, "update coverage area", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, area)
}

// DeleteArea handles DELETE /coverage-areas/{id}.
func (h *Handler) DeleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete coverage area", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type matchRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	ZoneKey   string   `json:"zone_key,omitempty"`
}

type matchResponse struct {
	Matches []CoverageArea `json:"matches"`
}

// Match handles POST /coverage-areas/match and returns every area containing
// the point, preferred area first.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		apperr.Write(w, fmt.Errorf("latitude and longitude are required: %w", apperr.ErrInvalidInput))
		return
	}
	if err := ValidatePoint(*req.Latitude, *req.Longitude); err != nil {
		apperr.Write(w, err)
		return
	}

	matches, err := h.matcher.FindCoverageAreas(r.Context(), *req.Latitude, *req.Longitude, strings.TrimSpace(req.ZoneKey))
	if err != nil {
		h.fail(w, r, "match coverage areas", err)
		return
	}
	apperr.RespondJSON(w, http.StatusOK, matchResponse{Matches: matches})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		utils.LoggerFromContext(r.Context(), h.log).Error(op+" failed", "error", err)
	}
	apperr.Write(w, err)
}
