package qualification_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/geocoding"
	"github.com/openisp/ops-backend/internal/logging"
	"github.com/openisp/ops-backend/internal/qualification"
	"github.com/openisp/ops-backend/internal/qualification/qualificationtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder map[string]*geocoding.Result

func (f fakeGeocoder) Geocode(_ context.Context, address string) (*geocoding.Result, error) {
	switch address {
	case "500 Error Way":
		return nil, errors.New("upstream timeout")
	}
	if r, ok := f[address]; ok {
		return r, nil
	}
	return nil, geocoding.ErrNoResults
}

func TestBackfillCoordinates(t *testing.T) {
	ctx := context.Background()
	repo := qualificationtest.New()

	lat, lon := 1.0, 2.0
	placed := repo.AddAddress("1 Placed St", &lat, &lon)
	found := repo.AddAddress("2 Found Ave", nil, nil)
	missing := repo.AddAddress("3 Nowhere Ln", nil, nil)
	broken := repo.AddAddress("500 Error Way", nil, nil)
	offMap := repo.AddAddress("4 Bad Point Rd", nil, nil)

	geo := fakeGeocoder{
		"2 Found Ave":    {Lat: 39.8, Lng: -89.6},
		"4 Bad Point Rd": {Lat: 123, Lng: 0},
	}

	res, err := qualification.BackfillCoordinates(ctx, repo, geo, qualification.BackfillOptions{Limit: 10}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, qualification.BackfillResult{Scanned: 4, Updated: 1, NotFound: 1, Failed: 2}, res)

	a, err := repo.GetAddress(ctx, found)
	require.NoError(t, err)
	require.True(t, a.HasCoordinates())
	assert.Equal(t, 39.8, *a.Latitude)
	assert.Equal(t, -89.6, *a.Longitude)
	assert.NotNil(t, a.GeocodedAt)

	for _, id := range []uuid.UUID{missing, broken, offMap} {
		a, err := repo.GetAddress(ctx, id)
		require.NoError(t, err)
		assert.False(t, a.HasCoordinates(), a.Line1)
	}

	a, err = repo.GetAddress(ctx, placed)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *a.Latitude)
}

func TestBackfillCoordinates_DryRunAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := qualificationtest.New()
	first := repo.AddAddress("2 Found Ave", nil, nil)
	repo.AddAddress("2 Found Ave", nil, nil)

	geo := fakeGeocoder{"2 Found Ave": {Lat: 39.8, Lng: -89.6}}
	res, err := qualification.BackfillCoordinates(ctx, repo, geo, qualification.BackfillOptions{Limit: 1, DryRun: true}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, qualification.BackfillResult{Scanned: 1, Updated: 1}, res)

	a, err := repo.GetAddress(ctx, first)
	require.NoError(t, err)
	assert.False(t, a.HasCoordinates())
}
