// backfill-coordinates geocodes service addresses that were stored without a
// point so later checks can run from the address alone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/openisp/ops-backend/internal/config"
	"github.com/openisp/ops-backend/internal/db"
	"github.com/openisp/ops-backend/internal/geocoding"
	"github.com/openisp/ops-backend/internal/logging"
	"github.com/openisp/ops-backend/internal/qualification"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var limit int
	var perSecond float64
	var dryRun bool

	flagSet := pflag.NewFlagSet("backfill-coordinates", pflag.ContinueOnError)
	flagSet.IntVarP(&limit, "limit", "n", 500, "maximum number of addresses to geocode")
	flagSet.Float64Var(&perSecond, "rate", 10, "geocoder requests per second")
	flagSet.BoolVar(&dryRun, "dry-run", false, "geocode without writing coordinates")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if limit < 1 || perSecond <= 0 {
		return fmt.Errorf("--limit and --rate must be positive")
	}

	cfg := config.Load()
	logger := logging.New(logging.Options{Level: logging.ParseLevel(cfg.LogLevel), JSON: cfg.LogFormat == "json"})

	geo, err := geocoding.NewClient(cfg.GoogleMapsAPIKey)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return config.ErrMissingDatabaseURL
	}
	gdb, err := db.Connect(db.Options{DSN: cfg.DatabaseURL, Logger: logger, LogSQL: cfg.DBLogSQL})
	if err != nil {
		return err
	}
	if err := qualification.Init(gdb, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if dryRun {
		logger.Info("dry run: no coordinates will be written")
	}
	res, err := qualification.BackfillCoordinates(ctx, qualification.NewGormRepository(gdb), geo, qualification.BackfillOptions{
		Limit:   limit,
		DryRun:  dryRun,
		Limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}, logger)
	logger.Info("backfill finished",
		"scanned", res.Scanned,
		"updated", res.Updated,
		"not_found", res.NotFound,
		"failed", res.Failed,
	)
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: backfill-coordinates [flags]\n\nGeocode addresses that have no latitude/longitude.\n\nFlags:\n")
	flagSet.PrintDefaults()
}
