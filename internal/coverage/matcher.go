package coverage

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// epsilon keeps the crossing computation finite on horizontal edges.
const epsilon = 1e-12

const earthRadiusKm = 6371.0

// ContainsPoint runs the crossing-number test on ring. Ring positions are
// GeoJSON (lon, lat) pairs.
func ContainsPoint(ring orb.Ring, lat, lon float64) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) && lon < (xj-xi)*(lat-yi)/(yj-yi+epsilon)+xi {
			inside = !inside
		}
	}
	return inside
}

// Centroid is the arithmetic mean of the ring's positions. It is not area
// weighted.
func Centroid(ring orb.Ring) orb.Point {
	if len(ring) == 0 {
		return orb.Point{}
	}
	var sumLon, sumLat float64
	for _, p := range ring {
		sumLon += p[0]
		sumLat += p[1]
	}
	n := float64(len(ring))
	return orb.Point{sumLon / n, sumLat / n}
}

// HaversineKm is the great-circle distance between two points on a sphere of
// radius 6371 km.
func HaversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// SortCandidates orders areas so the preferred match comes first: higher
// priority, then the most recently created.
func SortCandidates(areas []CoverageArea) {
	sort.SliceStable(areas, func(i, j int) bool {
		if areas[i].Priority != areas[j].Priority {
			return areas[i].Priority > areas[j].Priority
		}
		return areas[i].CreatedAt.After(areas[j].CreatedAt)
	})
}

// CandidateSource lists the active areas of a zone, or of every zone when
// zoneKey is empty.
type CandidateSource interface {
	Candidates(ctx context.Context, zoneKey string) ([]CoverageArea, error)
}

type Matcher struct {
	source CandidateSource
}

func NewMatcher(source CandidateSource) *Matcher {
	return &Matcher{source: source}
}

// FindCoverageAreas returns every candidate whose outer ring contains the
// point, in SortCandidates order.
func (m *Matcher) FindCoverageAreas(ctx context.Context, lat, lon float64, zoneKey string) ([]CoverageArea, error) {
	candidates, err := m.source.Candidates(ctx, zoneKey)
	if err != nil {
		return nil, err
	}
	SortCandidates(candidates)

	matches := []CoverageArea{}
	for i := range candidates {
		area := &candidates[i]
		if !area.InBounds(lat, lon) {
			continue
		}
		shape, err := area.Shape()
		if err != nil {
			return nil, err
		}
		if ContainsPoint(shape.OuterRing(), lat, lon) {
			matches = append(matches, *area)
		}
	}
	return matches, nil
}
