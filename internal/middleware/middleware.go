package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// ErrInvalidToken is returned by verifiers that reject a bearer token.
var ErrInvalidToken = errors.New("invalid operator token")

// TokenVerifier checks an operator bearer token.
type TokenVerifier interface {
	VerifyToken(token string) error
}

// BcryptVerifier compares tokens against a single bcrypt hash.
type BcryptVerifier struct {
	Hash []byte
}

func (v BcryptVerifier) VerifyToken(token string) error {
	if err := bcrypt.CompareHashAndPassword(v.Hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// AllowAllVerifier accepts any token, or none. Local development only.
type AllowAllVerifier struct{}

func (AllowAllVerifier) VerifyToken(string) error { return nil }

// DefaultOperator is recorded as the acting operator when the client does not
// send X-Operator.
const DefaultOperator = "operator"

func OperatorMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	_, anonymous := verifier.(AllowAllVerifier)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !anonymous {
				token, ok := bearerToken(r)
				if !ok {
					http.Error(w, "Unauthorized: missing bearer token", http.StatusUnauthorized)
					return
				}
				if err := verifier.VerifyToken(token); err != nil {
					http.Error(w, "Unauthorized: invalid operator token", http.StatusUnauthorized)
					return
				}
			}

			operator := strings.TrimSpace(r.Header.Get("X-Operator"))
			if operator == "" {
				operator = DefaultOperator
			}

			ctx := utils.WithOperator(r.Context(), operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// CORSMiddleware echoes allowed origins back with credentials enabled.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Operator", "X-Trace-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RateLimitMiddleware rejects requests beyond the limiter's budget with 429.
func RateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware logs each request and stores a trace-scoped logger in the
// request context for handlers and the engine.
func LoggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if _, err := uuid.Parse(traceID); err != nil {
				traceID = uuid.New().String()
			}
			w.Header().Set("X-Trace-ID", traceID)

			coreLogger := logger.With("trace_id", traceID)
			httpLogger := coreLogger.With(
				"http_method", r.Method,
				"http_path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			ctx := utils.WithLogger(r.Context(), coreLogger)
			ctx = utils.WithTraceID(ctx, traceID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			httpLogger.Info("request finished",
				"status_code", ww.Status(),
				"bytes_written", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
