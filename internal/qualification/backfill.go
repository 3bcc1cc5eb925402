package qualification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/geocoding"
	"golang.org/x/time/rate"
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocoding.Result, error)
}

type CoordinateStore interface {
	AddressesMissingCoordinates(ctx context.Context, limit int) ([]ServiceAddress, error)
	SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, at time.Time) error
}

type BackfillOptions struct {
	Limit  int
	DryRun bool
	// Limiter paces geocoder calls. Nil means unpaced.
	Limiter *rate.Limiter
	Now     func() time.Time
}

type BackfillResult struct {
	Scanned  int
	Updated  int
	NotFound int
	Failed   int
}

// BackfillCoordinates geocodes one batch of addresses that have no point.
// Addresses the geocoder cannot place are counted and left alone; any other
// geocoder error is logged and the batch continues.
func BackfillCoordinates(ctx context.Context, store CoordinateStore, geo Geocoder, opts BackfillOptions, logger *slog.Logger) (BackfillResult, error) {
	var res BackfillResult
	if opts.Now == nil {
		opts.Now = time.Now
	}

	addrs, err := store.AddressesMissingCoordinates(ctx, opts.Limit)
	if err != nil {
		return res, fmt.Errorf("listing addresses: %w", err)
	}

	for i := range addrs {
		addr := &addrs[i]
		res.Scanned++

		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		line := addr.OneLine()
		got, err := geo.Geocode(ctx, line)
		switch {
		case errors.Is(err, geocoding.ErrNoResults):
			res.NotFound++
			logger.Warn("address not found by geocoder", "address_id", addr.ID, "address", line)
			continue
		case err != nil:
			res.Failed++
			logger.Error("geocoding failed", "address_id", addr.ID, "error", err)
			continue
		}

		if err := coverage.ValidatePoint(got.Lat, got.Lng); err != nil {
			res.Failed++
			logger.Error("geocoder returned an invalid point", "address_id", addr.ID, "error", err)
			continue
		}

		if opts.DryRun {
			logger.Info("would set coordinates", "address_id", addr.ID, "lat", got.Lat, "lon", got.Lng)
			res.Updated++
			continue
		}
		if err := store.SetCoordinates(ctx, addr.ID, got.Lat, got.Lng, opts.Now().UTC()); err != nil {
			return res, fmt.Errorf("saving coordinates for %s: %w", addr.ID, err)
		}
		res.Updated++
		logger.Info("coordinates set", "address_id", addr.ID, "lat", got.Lat, "lon", got.Lng)
	}
	return res, nil
}
