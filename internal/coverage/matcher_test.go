package coverage_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/coverage/coveragetest"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArea(t *testing.T, name, geometry string) coverage.CoverageArea {
	t.Helper()
	area := coverage.CoverageArea{
		Name:           name,
		BuildoutStatus: coverage.StatusReady,
		Serviceable:    true,
		Active:         true,
	}
	require.NoError(t, area.SetGeometry([]byte(geometry)))
	return area
}

func TestContainsPoint_SquareExample(t *testing.T) {
	shape, err := coverage.ParseGeometry([]byte(squareGeoJSON))
	require.NoError(t, err)
	ring := shape.OuterRing()

	assert.True(t, coverage.ContainsPoint(ring, 6.5, 3.5))
	assert.False(t, coverage.ContainsPoint(ring, 10, 10))
	assert.False(t, coverage.ContainsPoint(ring, 6.5, 4.5))
	assert.False(t, coverage.ContainsPoint(ring, 5.9, 3.5))
}

// diamond is convex: |lon-5| + |lat-5| < 5.
const diamondGeoJSON = `{"type":"Polygon","coordinates":[[[5,0],[10,5],[5,10],[0,5],[5,0]]]}`

func TestContainsPoint_ConvexGrid(t *testing.T) {
	shape, err := coverage.ParseGeometry([]byte(diamondGeoJSON))
	require.NoError(t, err)
	ring := shape.OuterRing()

	for lon := -1.3; lon <= 11; lon += 0.7 {
		for lat := -1.1; lat <= 11; lat += 0.7 {
			d := math.Abs(lon-5) + math.Abs(lat-5)
			if math.Abs(d-5) < 0.01 {
				continue
			}
			want := d < 5
			assert.Equal(t, want, coverage.ContainsPoint(ring, lat, lon), "lon=%.2f lat=%.2f", lon, lat)
		}
	}
}

func TestCentroidAndHaversine(t *testing.T) {
	shape, err := coverage.ParseGeometry([]byte(squareGeoJSON))
	require.NoError(t, err)

	c := coverage.Centroid(shape.OuterRing())
	assert.InDelta(t, 3.4, c.Lon(), 1e-9)
	assert.InDelta(t, 6.4, c.Lat(), 1e-9)

	assert.Equal(t, orb.Point{}, coverage.Centroid(nil))

	// One degree of latitude on a 6371 km sphere.
	assert.InDelta(t, 111.195, coverage.HaversineKm(0, 0, 0, 1), 0.001)
	assert.Equal(t, 0.0, coverage.HaversineKm(-122.6, 45.5, -122.6, 45.5))
	assert.InDelta(t, coverage.HaversineKm(1, 2, 3, 4), coverage.HaversineKm(3, 4, 1, 2), 1e-9)
}

func TestSortCandidates(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	areas := []coverage.CoverageArea{
		{Name: "old-low", Priority: 1, CreatedAt: base},
		{Name: "new-high", Priority: 10, CreatedAt: base.Add(2 * time.Hour)},
		{Name: "old-high", Priority: 10, CreatedAt: base},
		{Name: "new-low", Priority: 1, CreatedAt: base.Add(time.Hour)},
	}
	coverage.SortCandidates(areas)

	var names []string
	for _, a := range areas {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"new-high", "old-high", "new-low", "old-low"}, names)
}

func TestFindCoverageAreas_PriorityTieBreak(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()

	// Higher priority created first, so creation order alone would pick the other one.
	high := newArea(t, "high", squareGeoJSON)
	high.Priority = 5
	require.NoError(t, repo.Create(ctx, &high))

	low := newArea(t, "low", squareGeoJSON)
	low.Priority = 1
	require.NoError(t, repo.Create(ctx, &low))

	matches, err := coverage.NewMatcher(repo).FindCoverageAreas(ctx, 6.5, 3.5, "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, high.ID, matches[0].ID)
	assert.Equal(t, low.ID, matches[1].ID)
}

func TestFindCoverageAreas_NewestWinsEqualPriority(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()

	older := newArea(t, "older", squareGeoJSON)
	require.NoError(t, repo.Create(ctx, &older))
	newer := newArea(t, "newer", squareGeoJSON)
	require.NoError(t, repo.Create(ctx, &newer))

	matches, err := coverage.NewMatcher(repo).FindCoverageAreas(ctx, 6.5, 3.5, "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, newer.ID, matches[0].ID)
}

func TestFindCoverageAreas_ZoneAndActiveFilters(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()

	west, east := "west", "east"
	a := newArea(t, "west", squareGeoJSON)
	a.ZoneKey = &west
	require.NoError(t, repo.Create(ctx, &a))

	b := newArea(t, "east", squareGeoJSON)
	b.ZoneKey = &east
	require.NoError(t, repo.Create(ctx, &b))

	c := newArea(t, "retired", squareGeoJSON)
	c.Active = false
	require.NoError(t, repo.Create(ctx, &c))

	m := coverage.NewMatcher(repo)

	matches, err := m.FindCoverageAreas(ctx, 6.5, 3.5, "west")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a.ID, matches[0].ID)

	matches, err = m.FindCoverageAreas(ctx, 6.5, 3.5, "")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = m.FindCoverageAreas(ctx, 6.5, 3.5, "north")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindCoverageAreas_BoundingBoxPrefilterIsSound(t *testing.T) {
	ctx := context.Background()
	withBounds := coveragetest.New()
	withoutBounds := coveragetest.New()

	geometries := []string{squareGeoJSON, diamondGeoJSON}
	for i, g := range geometries {
		area := newArea(t, fmt.Sprintf("area-%d", i), g)
		area.ID = uuid.New()
		area.Priority = i
		withBounds.Put(area)

		stripped := area
		stripped.MinLatitude, stripped.MaxLongitude = nil, nil
		withoutBounds.Put(stripped)
	}

	a := coverage.NewMatcher(withBounds)
	b := coverage.NewMatcher(withoutBounds)

	for lon := -2.0; lon <= 12; lon += 0.45 {
		for lat := -2.0; lat <= 12; lat += 0.45 {
			got, err := a.FindCoverageAreas(ctx, lat, lon, "")
			require.NoError(t, err)
			want, err := b.FindCoverageAreas(ctx, lat, lon, "")
			require.NoError(t, err)
			assert.Equal(t, ids(want), ids(got), "lon=%.2f lat=%.2f", lon, lat)
		}
	}
}

func TestFindCoverageAreas_OutsideBoundsSkipsCorruptGeometry(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()

	// Bounds far from the query point: the prefilter rejects the area before
	// its geometry is parsed.
	lo, hi := 50.0, 51.0
	repo.Put(coverage.CoverageArea{
		Name: "corrupt", Active: true, GeometryGeoJSON: coverage.Geometry(`{"type":"Point"}`),
		MinLatitude: &lo, MaxLatitude: &hi, MinLongitude: &lo, MaxLongitude: &hi,
	})

	matches, err := coverage.NewMatcher(repo).FindCoverageAreas(ctx, 6.5, 3.5, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindCoverageAreas_CorruptStoredGeometry(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()
	repo.Put(coverage.CoverageArea{
		Name: "corrupt", Active: true,
		GeometryGeoJSON: coverage.Geometry(`{"type":"Polygon","coordinates":[[[0,0],[1,1],[0,0]]]}`),
	})

	_, err := coverage.NewMatcher(repo).FindCoverageAreas(ctx, 0.5, 0.5, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDataIntegrity)
	assert.ErrorIs(t, err, coverage.ErrRingTooShort)
	assert.Equal(t, 500, apperr.Status(err))
}

func TestFindCoverageAreas_MultiPolygonUsesFirstOuterRing(t *testing.T) {
	ctx := context.Background()
	repo := coveragetest.New()

	area := newArea(t, "multi", `{"type":"MultiPolygon","coordinates":[
		[[[0,0],[2,0],[2,2],[0,2],[0,0]]],
		[[[10,10],[12,10],[12,12],[10,12],[10,10]]]
	]}`)
	require.NoError(t, repo.Create(ctx, &area))
	m := coverage.NewMatcher(repo)

	matches, err := m.FindCoverageAreas(ctx, 1, 1, "")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = m.FindCoverageAreas(ctx, 11, 11, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func ids(areas []coverage.CoverageArea) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(areas))
	for _, a := range areas {
		out = append(out, a.ID)
	}
	return out
}
