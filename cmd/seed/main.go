// seed loads coverage areas from a YAML file and upserts them by code.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openisp/ops-backend/internal/config"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/db"
	"github.com/openisp/ops-backend/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var filePath string
	var dryRun bool

	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVarP(&filePath, "file", "f", "data/coverage_areas.yaml", "YAML file of coverage areas")
	flagSet.BoolVar(&dryRun, "dry-run", false, "validate the file without writing to the database")
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
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg := config.Load()
	logger := logging.New(logging.Options{Level: logging.ParseLevel(cfg.LogLevel), JSON: cfg.LogFormat == "json"})

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	areas, err := coverage.ParseSeed(data)
	if err != nil {
		return err
	}
	if dryRun {
		logger.Info("seed file is valid", "file", filePath, "areas", len(areas))
		return nil
	}

	if cfg.DatabaseURL == "" {
		return config.ErrMissingDatabaseURL
	}
	gdb, err := db.Connect(db.Options{DSN: cfg.DatabaseURL, Logger: logger, LogSQL: cfg.DBLogSQL})
	if err != nil {
		return err
	}
	if err := coverage.Init(gdb, logger); err != nil {
		return err
	}

	res, err := coverage.Seed(context.Background(), coverage.NewGormRepository(gdb), areas, logger)
	if err != nil {
		return err
	}
	logger.Info("seeding complete", "created", res.Created, "updated", res.Updated)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: seed [flags]\n\nUpsert coverage areas from a YAML file, matching rows by code.\n\nFlags:\n")
	flagSet.PrintDefaults()
}
