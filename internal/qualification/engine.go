package qualification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/metrics"
	"github.com/paulmach/orb"
)

var (
	ErrAddressNotFound    = fmt.Errorf("address not found: %w", apperr.ErrNotFound)
	ErrMissingCoordinates = fmt.Errorf("a point is required: send latitude and longitude or an address with coordinates: %w", apperr.ErrInvalidInput)
)

// AreaFinder returns the coverage areas containing a point, best first.
type AreaFinder interface {
	FindCoverageAreas(ctx context.Context, lat, lon float64, zoneKey string) ([]coverage.CoverageArea, error)
}

// RequestOpener opens a buildout request for a location unless one is
// already open there.
type RequestOpener interface {
	OpenAutomaticRequest(ctx context.Context, in buildout.AutoRequestInput) (*buildout.BuildoutRequest, bool, error)
}

type AddressStore interface {
	GetAddress(ctx context.Context, id uuid.UUID) (*ServiceAddress, error)
}

type QualificationStore interface {
	CreateQualification(ctx context.Context, q *ServiceQualification) error
}

type Engine struct {
	addresses AddressStore
	records   QualificationStore
	areas     AreaFinder
	requests  RequestOpener
	metrics   metrics.Recorder
}

type EngineDeps struct {
	Addresses      AddressStore
	Qualifications QualificationStore
	Areas          AreaFinder
	Requests       RequestOpener
	Metrics        metrics.Recorder
}

func NewEngine(d EngineDeps) *Engine {
	rec := d.Metrics
	if rec == nil {
		rec = (*metrics.Metrics)(nil)
	}
	return &Engine{
		addresses: d.Addresses,
		records:   d.Qualifications,
		areas:     d.Areas,
		requests:  d.Requests,
		metrics:   rec,
	}
}

type CheckRequest struct {
	AddressID     *uuid.UUID `json:"address_id,omitempty"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	RequestedTech string     `json:"requested_tech,omitempty"`
	ZoneKey       string     `json:"zone_key,omitempty"`
	Metadata      Metadata   `json:"metadata,omitempty"`
}

type Result struct {
	Qualification *ServiceQualification
	// BuildoutRequest is the open request for the location when the check
	// asked for one; RequestCreated tells whether this check opened it.
	BuildoutRequest *buildout.BuildoutRequest
	RequestCreated  bool
	// Matches holds every containing area, winner first.
	Matches []coverage.CoverageArea
}

// Check resolves the point, decides eligibility against the best matching
// area and persists the decision. A needs_buildout decision for a known
// address in a planned or in-progress area also opens a buildout request.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*Result, error) {
	start := time.Now()

	lat, lon, err := e.resolvePoint(ctx, req)
	if err != nil {
		e.metrics.CheckFailed(failureReason(err))
		return nil, err
	}

	matches, err := e.areas.FindCoverageAreas(ctx, lat, lon, strings.TrimSpace(req.ZoneKey))
	if err != nil {
		e.metrics.CheckFailed(failureReason(err))
		return nil, err
	}

	var area *coverage.CoverageArea
	if len(matches) > 0 {
		area = &matches[0]
	}

	tech := coverage.NormalizeTech(req.RequestedTech)
	status, reasons, err := Evaluate(area, orb.Point{lon, lat}, tech)
	if err != nil {
		e.metrics.CheckFailed(failureReason(err))
		return nil, err
	}

	q := &ServiceQualification{
		AddressID:     req.AddressID,
		Latitude:      lat,
		Longitude:     lon,
		Geohash:       Geohash(lat, lon),
		ZoneKey:       strings.TrimSpace(req.ZoneKey),
		RequestedTech: tech,
		Status:        status,
		Reasons:       reasons,
		Metadata:      req.Metadata,
	}
	if q.Metadata == nil {
		q.Metadata = Metadata{}
	}
	if area != nil {
		q.CoverageAreaID = &area.ID
		bs := string(area.BuildoutStatus)
		q.BuildoutStatus = &bs
		q.EstimatedInstallWindow = area.BuildoutWindow
	}
	if err := e.records.CreateQualification(ctx, q); err != nil {
		e.metrics.CheckFailed("store")
		return nil, fmt.Errorf("store qualification: %w", err)
	}

	res := &Result{Qualification: q, Matches: matches}
	if wantsBuildoutRequest(q, area) {
		br, created, err := e.requests.OpenAutomaticRequest(ctx, buildout.AutoRequestInput{
			QualificationID: q.ID,
			CoverageAreaID:  area.ID,
			AddressID:       *q.AddressID,
		})
		if err != nil {
			e.metrics.CheckFailed("buildout_request")
			return nil, fmt.Errorf("open buildout request: %w", err)
		}
		res.BuildoutRequest, res.RequestCreated = br, created
	}

	e.metrics.ObserveCheck(string(status), time.Since(start))
	return res, nil
}

func (e *Engine) resolvePoint(ctx context.Context, req CheckRequest) (float64, float64, error) {
	var lat, lon float64
	switch {
	case req.AddressID != nil:
		addr, err := e.addresses.GetAddress(ctx, *req.AddressID)
		if err != nil {
			return 0, 0, err
		}
		if !addr.HasCoordinates() {
			return 0, 0, fmt.Errorf("address %s has no coordinates: %w", addr.ID, ErrMissingCoordinates)
		}
		lat, lon = *addr.Latitude, *addr.Longitude
	case req.Latitude != nil && req.Longitude != nil:
		lat, lon = *req.Latitude, *req.Longitude
	default:
		return 0, 0, ErrMissingCoordinates
	}
	if err := coverage.ValidatePoint(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// wantsBuildoutRequest reports whether a decision should open a buildout
// request. not_planned areas never do.
func wantsBuildoutRequest(q *ServiceQualification, area *coverage.CoverageArea) bool {
	if q.Status != StatusNeedsBuildout || area == nil || q.AddressID == nil {
		return false
	}
	return area.BuildoutStatus == coverage.StatusPlanned || area.BuildoutStatus == coverage.StatusInProgress
}

// Evaluate decides eligibility of point (lon, lat) against area, the winning
// match or nil. Every failing rule contributes a reason, always in the order
// not_serviceable, buildout_status:<v>, tech_not_supported,
// capacity_unavailable, distance_exceeds. requestedTech may be empty.
func Evaluate(area *coverage.CoverageArea, point orb.Point, requestedTech string) (Status, []string, error) {
	if area == nil {
		return StatusIneligible, []string{ReasonNoCoverage}, nil
	}

	reasons := []string{}
	if !area.Serviceable {
		reasons = append(reasons, ReasonNotServiceable)
	}
	if area.BuildoutStatus != coverage.StatusReady {
		reasons = append(reasons, ReasonBuildoutStatus+":"+string(area.BuildoutStatus))
	}

	c := area.Constraints
	if requestedTech != "" && !c.AllowsTech(requestedTech) {
		reasons = append(reasons, ReasonTechNotSupported)
	}
	if c.CapacityAvailable != nil && !*c.CapacityAvailable {
		reasons = append(reasons, ReasonCapacityUnavailable)
	}
	if c.MaxDistanceKm != nil {
		shape, err := area.Shape()
		if err != nil {
			return "", nil, err
		}
		center := coverage.Centroid(shape.OuterRing())
		if coverage.HaversineKm(point.Lon(), point.Lat(), center.Lon(), center.Lat()) > *c.MaxDistanceKm {
			reasons = append(reasons, ReasonDistanceExceeds)
		}
	}

	return resolveStatus(reasons), reasons, nil
}

// resolveStatus is needs_buildout only when unreadiness is the sole problem.
func resolveStatus(reasons []string) Status {
	if len(reasons) == 0 {
		return StatusEligible
	}
	for _, r := range reasons {
		if !strings.HasPrefix(r, ReasonBuildoutStatus) {
			return StatusIneligible
		}
	}
	return StatusNeedsBuildout
}

// failureReason labels a failed check for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCoordinates):
		return "missing_coordinates"
	case errors.Is(err, apperr.ErrNotFound):
		return "address_not_found"
	case errors.Is(err, apperr.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
