package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Common errors
var (
	ErrMissingDatabaseURL   = errors.New("DATABASE_URL environment variable is required")
	ErrMissingOperatorToken = errors.New("OPERATOR_TOKEN_HASH is required unless ALLOW_ANONYMOUS_OPERATORS=true")
	ErrInvalidRateLimit     = errors.New("QUALIFY_RATE_LIMIT and QUALIFY_RATE_BURST must be positive")
)

// DefaultExchange is the AMQP exchange workflow events are published to.
const DefaultExchange = "buildout.events"

// Config holds process configuration for the API server.
type Config struct {
	Port        string
	DatabaseURL string
	DBLogSQL    bool

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string

	// Bcrypt hash of the shared operator bearer token.
	OperatorTokenHash       string
	AllowAnonymousOperators bool

	QualifyRateLimit float64
	QualifyRateBurst int

	AMQPURL      string
	AMQPExchange string

	MetricsEnabled bool

	GoogleMapsAPIKey string
}

// Load reads .env.local when present and then the process environment.
//
// Environment variables:
//   - PORT: listen port (default: 5050)
//   - DATABASE_URL: Postgres DSN (required)
//   - DB_LOG_SQL: log every SQL statement (default: false)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_FORMAT: text or json (default: text)
//   - CORS_ALLOWED_ORIGINS: comma separated origin allow-list
//   - OPERATOR_TOKEN_HASH: bcrypt hash of the operator bearer token
//   - ALLOW_ANONYMOUS_OPERATORS: skip operator auth, for local development only
//   - QUALIFY_RATE_LIMIT / QUALIFY_RATE_BURST: qualification check limiter (default: 20 / 40)
//   - AMQP_URL: RabbitMQ URL; empty disables event publishing
//   - AMQP_EXCHANGE: exchange name (default: buildout.events)
//   - METRICS_ENABLED: expose /metrics (default: true)
//   - GOOGLE_MAPS_API_KEY: used by cmd/backfill-coordinates
func Load() Config {
	_ = godotenv.Load(".env.local")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5050"
	}

	exchange := strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))
	if exchange == "" {
		exchange = DefaultExchange
	}

	return Config{
		Port:                    port,
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DBLogSQL:                envBool("DB_LOG_SQL", false),
		LogLevel:                strings.ToLower(envString("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(envString("LOG_FORMAT", "text")),
		CORSAllowedOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		OperatorTokenHash:       strings.TrimSpace(os.Getenv("OPERATOR_TOKEN_HASH")),
		AllowAnonymousOperators: envBool("ALLOW_ANONYMOUS_OPERATORS", false),
		QualifyRateLimit:        envFloat("QUALIFY_RATE_LIMIT", 20),
		QualifyRateBurst:        envInt("QUALIFY_RATE_BURST", 40),
		AMQPURL:                 strings.TrimSpace(os.Getenv("AMQP_URL")),
		AMQPExchange:            exchange,
		MetricsEnabled:          envBool("METRICS_ENABLED", true),
		GoogleMapsAPIKey:        os.Getenv("GOOGLE_MAPS_API_KEY"),
	}
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.OperatorTokenHash == "" && !c.AllowAnonymousOperators {
		return ErrMissingOperatorToken
	}
	if c.QualifyRateLimit <= 0 || c.QualifyRateBurst <= 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
