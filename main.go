package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/config"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/db"
	"github.com/openisp/ops-backend/internal/events"
	"github.com/openisp/ops-backend/internal/logging"
	"github.com/openisp/ops-backend/internal/metrics"
	"github.com/openisp/ops-backend/internal/middleware"
	"github.com/openisp/ops-backend/internal/qualification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func HealthHandler(d *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := d.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		w.Header().Set("Content-Type", "text/plain")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "database unavailable")
			return
		}
		fmt.Fprintln(w, "Server is up!")
	}
}

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	gdb, err := db.Connect(db.Options{DSN: cfg.DatabaseURL, Logger: logger, LogSQL: cfg.DBLogSQL})
	if err != nil {
		return err
	}

	for _, initFn := range []func(*gorm.DB, *slog.Logger) error{
		coverage.Init,
		buildout.Init,
		qualification.Init,
	} {
		if err := initFn(gdb, logger); err != nil {
			return err
		}
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("serviceability", prometheus.DefaultRegisterer)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		publisher = amqpPub
	} else {
		logger.Warn("AMQP_URL not set; workflow events are not published")
	}

	var verifier middleware.TokenVerifier = middleware.BcryptVerifier{Hash: []byte(cfg.OperatorTokenHash)}
	if cfg.AllowAnonymousOperators {
		logger.Warn("ALLOW_ANONYMOUS_OPERATORS is set; operator routes are unauthenticated")
		verifier = middleware.AllowAllVerifier{}
	}
	operator := middleware.OperatorMiddleware(verifier)
	checkLimit := middleware.RateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.QualifyRateLimit), cfg.QualifyRateBurst))

	workflow := buildout.NewWorkflow(buildout.NewGormRepository(gdb), m)
	qualHandler := qualification.NewHandler(
		qualification.NewGormRunner(gdb, m),
		qualification.NewGormRepository(gdb),
		publisher,
		logger,
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	r.Get("/healthz", HealthHandler(gdb))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Mount("/coverage-areas", coverage.SetupRoutes(coverage.NewHandler(coverage.NewGormRepository(gdb), logger), operator))
	r.Mount("/qualifications", qualification.SetupRoutes(qualHandler, operator, checkLimit))
	r.Mount("/addresses", qualification.SetupAddressRoutes(qualHandler, operator))
	r.Mount("/buildout", buildout.SetupRoutes(buildout.NewHandler(workflow, publisher, logger), operator))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
