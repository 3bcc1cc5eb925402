package coverage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

type BuildoutStatus string

const (
	StatusPlanned    BuildoutStatus = "planned"
	StatusInProgress BuildoutStatus = "in_progress"
	StatusReady      BuildoutStatus = "ready"
	StatusNotPlanned BuildoutStatus = "not_planned"
)

var BuildoutStatuses = []string{
	string(StatusPlanned),
	string(StatusInProgress),
	string(StatusReady),
	string(StatusNotPlanned),
}

func (s BuildoutStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusReady, StatusNotPlanned:
		return true
	}
	return false
}

// Constraints is the fixed vocabulary of per-area service limits. Nil fields
// are unset and never produce a reason. A nil AllowedTech permits any
// technology; an empty one permits none.
type Constraints struct {
	AllowedTech       []string `json:"allowed_tech"`
	CapacityAvailable *bool    `json:"capacity_available,omitempty"`
	MaxDistanceKm     *float64 `json:"max_distance_km,omitempty"`
}

func (c Constraints) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Constraints) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = Constraints{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	var out Constraints
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

var techFolder = cases.Fold()

// NormalizeTech canonicalises a technology tag so "FTTH" and "ftth" compare equal.
func NormalizeTech(tag string) string {
	return techFolder.String(strings.TrimSpace(tag))
}

// Normalize folds and de-duplicates AllowedTech, keeping first-seen order.
func (c *Constraints) Normalize() {
	if c.AllowedTech == nil {
		return
	}
	seen := make(map[string]bool, len(c.AllowedTech))
	out := make([]string, 0, len(c.AllowedTech))
	for _, t := range c.AllowedTech {
		n := NormalizeTech(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	c.AllowedTech = out
}

// AllowsTech reports whether tech is permitted. An unset allow-list permits everything.
func (c Constraints) AllowsTech(tech string) bool {
	if c.AllowedTech == nil {
		return true
	}
	want := NormalizeTech(tech)
	for _, t := range c.AllowedTech {
		if NormalizeTech(t) == want {
			return true
		}
	}
	return false
}

// Geometry is a raw GeoJSON geometry stored in a jsonb column.
type Geometry json.RawMessage

func (g Geometry) Value() (driver.Value, error) {
	if len(g) == 0 {
		return nil, nil
	}
	return string(g), nil
}

func (g *Geometry) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*g = nil
	case []byte:
		*g = append((*g)[0:0], v...)
	case string:
		*g = Geometry(v)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	return nil
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	if len(g) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(g).MarshalJSON()
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	if g == nil {
		return fmt.Errorf("Geometry: UnmarshalJSON on nil pointer")
	}
	if string(data) == "null" {
		*g = nil
		return nil
	}
	*g = append((*g)[0:0], data...)
	return nil
}

// CoverageArea is a named footprint where service may be offered.
type CoverageArea struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Code        *string   `gorm:"uniqueIndex" json:"code,omitempty"`
	ZoneKey     *string   `gorm:"index" json:"zone_key,omitempty"`
	Description string    `json:"description,omitempty"`

	GeometryGeoJSON Geometry `gorm:"column:geometry_geojson;type:jsonb;not null" json:"geometry_geojson"`

	// Derived from GeometryGeoJSON by SetGeometry; a prefilter only.
	MinLatitude  *float64 `json:"min_latitude,omitempty"`
	MaxLatitude  *float64 `json:"max_latitude,omitempty"`
	MinLongitude *float64 `json:"min_longitude,omitempty"`
	MaxLongitude *float64 `json:"max_longitude,omitempty"`

	BuildoutStatus BuildoutStatus `gorm:"type:text;not null;default:'planned';index" json:"buildout_status"`
	Serviceable    bool           `gorm:"not null" json:"serviceable"`
	Priority       int            `gorm:"not null;default:0" json:"priority"`
	BuildoutWindow string         `json:"buildout_window,omitempty"`
	Constraints    Constraints    `gorm:"type:jsonb;not null;default:'{}'" json:"constraints"`
	Active         bool           `gorm:"not null;index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CoverageArea) TableName() string {
	return "serviceability.coverage_areas"
}

// SetGeometry validates raw, stores it and recomputes the bounding box.
func (a *CoverageArea) SetGeometry(raw []byte) error {
	shape, err := ParseGeometry(raw)
	if err != nil {
		return err
	}
	b := shape.Bounds()
	minLat, maxLat := b.Min.Lat(), b.Max.Lat()
	minLon, maxLon := b.Min.Lon(), b.Max.Lon()

	a.GeometryGeoJSON = append(Geometry(nil), raw...)
	a.MinLatitude, a.MaxLatitude = &minLat, &maxLat
	a.MinLongitude, a.MaxLongitude = &minLon, &maxLon
	return nil
}

// Shape parses the stored geometry. A failure here means the row was written
// around SetGeometry and is reported as a data integrity error.
func (a *CoverageArea) Shape() (Shape, error) {
	shape, err := ParseGeometry(a.GeometryGeoJSON)
	if err != nil {
		return Shape{}, fmt.Errorf("coverage area %s: %w: %w", a.ID, ErrStoredGeometry, err)
	}
	return shape, nil
}

// HasBounds reports whether all four bounding box fields are present.
func (a *CoverageArea) HasBounds() bool {
	return a.MinLatitude != nil && a.MaxLatitude != nil && a.MinLongitude != nil && a.MaxLongitude != nil
}

// InBounds reports whether the point falls inside the cached bounding box.
// Areas without a complete box always pass.
func (a *CoverageArea) InBounds(lat, lon float64) bool {
	if !a.HasBounds() {
		return true
	}
	return *a.MinLatitude <= lat && lat <= *a.MaxLatitude &&
		*a.MinLongitude <= lon && lon <= *a.MaxLongitude
}
