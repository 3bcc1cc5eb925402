package coverage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrUnsupportedGeometry = fmt.Errorf("geometry must be a GeoJSON Polygon or MultiPolygon: %w", apperr.ErrInvalidInput)
	ErrMalformedGeometry   = fmt.Errorf("malformed geometry: %w", apperr.ErrInvalidGeometry)
	ErrRingTooShort        = fmt.Errorf("ring must have at least %d positions: %w", minRingPositions, apperr.ErrInvalidGeometry)
	ErrStoredGeometry      = fmt.Errorf("stored geometry is unreadable: %w", apperr.ErrDataIntegrity)
	ErrCoordinateRange     = fmt.Errorf("latitude must be within [-90, 90] and longitude within [-180, 180]: %w", apperr.ErrInvalidInput)
)

// A closed ring repeats its first position, so a triangle needs four.
const minRingPositions = 4

//go:embed geometry.schema.json
var geometrySchemaJSON string

var geometrySchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("geometry.schema.json", strings.NewReader(geometrySchemaJSON)); err != nil {
		log.Fatalf("failed to add geometry schema: %v", err)
	}
	s, err := compiler.Compile("geometry.schema.json")
	if err != nil {
		log.Fatalf("failed to compile geometry schema: %v", err)
	}
	geometrySchema = s
}

// Shape is a parsed coverage footprint: one polygon for a GeoJSON Polygon,
// one or more for a MultiPolygon.
type Shape struct {
	Polygons []orb.Polygon
}

// OuterRing is the ring used for containment and centroid: the outer ring of
// the first polygon.
func (s Shape) OuterRing() orb.Ring {
	return s.Polygons[0][0]
}

// Bounds covers every ring of every polygon, holes included.
func (s Shape) Bounds() orb.Bound {
	return orb.MultiPolygon(s.Polygons).Bound()
}

// ParseGeometry validates a GeoJSON geometry and decodes it.
func ParseGeometry(raw []byte) (Shape, error) {
	if len(raw) == 0 {
		return Shape{}, fmt.Errorf("%w: geometry is required", ErrMalformedGeometry)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Shape{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	if head.Type != "Polygon" && head.Type != "MultiPolygon" {
		return Shape{}, fmt.Errorf("%w: got %q", ErrUnsupportedGeometry, head.Type)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Shape{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	if err := geometrySchema.Validate(doc); err != nil {
		return Shape{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}

	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return Shape{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}

	var shape Shape
	switch c := g.Coordinates.(type) {
	case orb.Polygon:
		shape.Polygons = []orb.Polygon{c}
	case orb.MultiPolygon:
		shape.Polygons = []orb.Polygon(c)
	default:
		return Shape{}, fmt.Errorf("%w: got %s", ErrUnsupportedGeometry, g.Type)
	}

	for i, poly := range shape.Polygons {
		if len(poly) == 0 {
			return Shape{}, fmt.Errorf("%w: polygon %d has no rings", ErrMalformedGeometry, i)
		}
		for j, ring := range poly {
			if len(ring) < minRingPositions {
				return Shape{}, fmt.Errorf("%w: polygon %d ring %d has %d", ErrRingTooShort, i, j, len(ring))
			}
		}
	}
	return shape, nil
}

// ValidatePoint checks that lat/lon are plausible WGS84 coordinates.
func ValidatePoint(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrCoordinateRange, lat, lon)
	}
	return nil
}
