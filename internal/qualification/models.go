package qualification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mmcloughlin/geohash"
)

type Status string

const (
	StatusEligible      Status = "eligible"
	StatusIneligible    Status = "ineligible"
	StatusNeedsBuildout Status = "needs_buildout"
)

var Statuses = []string{string(StatusEligible), string(StatusIneligible), string(StatusNeedsBuildout)}

// Reason codes, listed in evaluation order.
const (
	ReasonNoCoverage          = "no_coverage"
	ReasonNotServiceable      = "not_serviceable"
	ReasonBuildoutStatus      = "buildout_status"
	ReasonTechNotSupported    = "tech_not_supported"
	ReasonCapacityUnavailable = "capacity_unavailable"
	ReasonDistanceExceeds     = "distance_exceeds"
)

// GeohashPrecision is the length of the geohash stored on each check (about 5m cells).
const GeohashPrecision = 9

// Metadata is caller-supplied context stored with a check as jsonb.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", value)
	}
	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// ServiceAddress is a stored customer location. Coordinates are filled in
// by the caller or by cmd/backfill-coordinates.
type ServiceAddress struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Line1      string     `gorm:"not null" json:"line1"`
	Line2      string     `json:"line2,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	PostalCode string     `gorm:"index" json:"postal_code,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	GeocodedAt *time.Time `json:"geocoded_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ServiceAddress) TableName() string {
	return "serviceability.service_addresses"
}

func (a *ServiceAddress) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// OneLine formats the address for a geocoder query.
func (a *ServiceAddress) OneLine() string {
	var parts []string
	for _, p := range []string{a.Line1, a.Line2, a.City, strings.TrimSpace(a.State + " " + a.PostalCode)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ServiceQualification records one eligibility decision. Only Metadata may
// change after it is written.
type ServiceQualification struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	AddressID              *uuid.UUID     `gorm:"type:uuid;index" json:"address_id,omitempty"`
	CoverageAreaID         *uuid.UUID     `gorm:"type:uuid;index" json:"coverage_area_id,omitempty"`
	Latitude               float64        `gorm:"not null" json:"latitude"`
	Longitude              float64        `gorm:"not null" json:"longitude"`
	Geohash                string         `gorm:"type:varchar(12);index" json:"geohash"`
	ZoneKey                string         `json:"zone_key,omitempty"`
	RequestedTech          string         `gorm:"index" json:"requested_tech,omitempty"`
	Status                 Status         `gorm:"type:text;not null;index" json:"status"`
	BuildoutStatus         *string        `json:"buildout_status"`
	EstimatedInstallWindow string         `json:"estimated_install_window,omitempty"`
	Reasons                pq.StringArray `gorm:"type:text[];not null" json:"reasons"`
	Metadata               Metadata       `gorm:"type:jsonb;not null" json:"metadata"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func (ServiceQualification) TableName() string {
	return "serviceability.service_qualifications"
}

// Geohash encodes a point at GeohashPrecision.
func Geohash(lat, lon float64) string {
	return geohash.EncodeWithPrecision(lat, lon, GeohashPrecision)
}
