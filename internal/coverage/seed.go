package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/listing"
)

var ErrSeedCodeRequired = fmt.Errorf("seed areas need a code: %w", apperr.ErrInvalidInput)

// seedFile is the YAML layout read by cmd/seed:
//
//	areas:
//	  - code: RIV-1
//	    name: Riverside
//	    buildout_status: planned
//	    geometry: {type: Polygon, coordinates: [...]}
type seedFile struct {
	Areas []seedArea `yaml:"areas"`
}

type seedArea struct {
	Code              string   `yaml:"code"`
	Name              string   `yaml:"name"`
	ZoneKey           string   `yaml:"zone_key"`
	Description       string   `yaml:"description"`
	Geometry          any      `yaml:"geometry"`
	BuildoutStatus    string   `yaml:"buildout_status"`
	Serviceable       *bool    `yaml:"serviceable"`
	Priority          int      `yaml:"priority"`
	BuildoutWindow    string   `yaml:"buildout_window"`
	AllowedTech       []string `yaml:"allowed_tech"`
	CapacityAvailable *bool    `yaml:"capacity_available"`
	MaxDistanceKm     *float64 `yaml:"max_distance_km"`
	Active            *bool    `yaml:"active"`
}

// ParseSeed decodes a seed file into validated areas. Every geometry goes
// through SetGeometry, so a file that parses is safe to match against.
func ParseSeed(data []byte) ([]CoverageArea, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Areas))
	out := make([]CoverageArea, 0, len(f.Areas))
	for i, in := range f.Areas {
		area, err := in.toArea()
		if err != nil {
			return nil, fmt.Errorf("area %d (%s): %w", i, in.Code, err)
		}
		if seen[*area.Code] {
			return nil, fmt.Errorf("area %d: code %q repeated: %w", i, *area.Code, apperr.ErrInvalidInput)
		}
		seen[*area.Code] = true
		out = append(out, area)
	}
	return out, nil
}

func (in seedArea) toArea() (CoverageArea, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return CoverageArea{}, ErrSeedCodeRequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return CoverageArea{}, ErrNameRequired
	}

	area := CoverageArea{
		Name:           name,
		Code:           &code,
		ZoneKey:        optional(in.ZoneKey),
		Description:    in.Description,
		BuildoutStatus: StatusPlanned,
		Serviceable:    true,
		Priority:       in.Priority,
		BuildoutWindow: in.BuildoutWindow,
		Active:         true,
		Constraints: Constraints{
			AllowedTech:       in.AllowedTech,
			CapacityAvailable: in.CapacityAvailable,
			MaxDistanceKm:     in.MaxDistanceKm,
		},
	}
	if in.BuildoutStatus != "" {
		area.BuildoutStatus = BuildoutStatus(in.BuildoutStatus)
		if !area.BuildoutStatus.Valid() {
			return CoverageArea{}, fmt.Errorf("invalid buildout_status %q: %w", in.BuildoutStatus, apperr.ErrInvalidInput)
		}
	}
	if in.Serviceable != nil {
		area.Serviceable = *in.Serviceable
	}
	if in.Active != nil {
		area.Active = *in.Active
	}
	area.Constraints.Normalize()

	if in.Geometry == nil {
		return CoverageArea{}, fmt.Errorf("geometry is required: %w", apperr.ErrInvalidInput)
	}
	raw, err := json.Marshal(in.Geometry)
	if err != nil {
		return CoverageArea{}, fmt.Errorf("encoding geometry: %w", err)
	}
	if err := area.SetGeometry(raw); err != nil {
		return CoverageArea{}, err
	}
	return area, nil
}

type SeedResult struct {
	Created int
	Updated int
}

// Seed upserts areas by code. Existing rows keep their id and created_at so
// qualifications and buildout requests that reference them stay valid.
func Seed(ctx context.Context, repo Repository, areas []CoverageArea, logger *slog.Logger) (SeedResult, error) {
	var res SeedResult
	for i := range areas {
		area := areas[i]
		existing, err := findByCode(ctx, repo, *area.Code)
		if err != nil {
			return res, err
		}
		if existing == nil {
			if err := repo.Create(ctx, &area); err != nil {
				return res, fmt.Errorf("creating %s: %w", *area.Code, err)
			}
			res.Created++
			logger.Info("coverage area created", "code", *area.Code, "id", area.ID)
			continue
		}

		area.ID = existing.ID
		area.CreatedAt = existing.CreatedAt
		if err := repo.Save(ctx, &area); err != nil {
			return res, fmt.Errorf("updating %s: %w", *area.Code, err)
		}
		res.Updated++
		logger.Info("coverage area updated", "code", *area.Code, "id", area.ID)
	}
	return res, nil
}

func findByCode(ctx context.Context, repo Repository, code string) (*CoverageArea, error) {
	found, err := repo.List(ctx, listing.Params{Limit: 1}.Scoped("code", code))
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", code, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}
