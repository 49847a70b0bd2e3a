// Package middleware throttles API callers with per-class sliding windows.
//
// Authenticated callers are keyed by actor ID, everyone else by client IP.
// When the bucket store errors the request is let through and the failure is
// logged; rate limiting never takes the API down with it.
package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"vaxledger/internal/ratelimit/metrics"
	"vaxledger/internal/ratelimit/models"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/requestcontext"
)

type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Limiter struct {
	store   BucketStore
	limits  map[models.Class]models.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New builds a limiter. A class without a positive limit is not throttled.
func New(store BucketStore, limits map[models.Class]models.Limit, opts ...Option) *Limiter {
	l := &Limiter{store: store, limits: limits, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handler must run after authentication so actor IDs are in the context.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := models.ClassFor(r.Method)
		limit, ok := l.limits[class]
		if !ok || limit.Requests <= 0 || limit.Window <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		identifier := callerID(r)
		result, err := l.store.Allow(ctx, models.Key(class, identifier), limit.Requests, limit.Window)
		if err != nil {
			l.metrics.IncrementStoreError()
			l.logger.WarnContext(ctx, "rate limit check failed, allowing request",
				"error", err,
				"class", class,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.IncrementDecision(string(class), result.Allowed)
		addHeaders(w, result)
		if !result.Allowed {
			l.logger.InfoContext(ctx, "rate limit exceeded",
				"class", class,
				"caller", identifier,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerID(r *http.Request) string {
	if actor := requestcontext.ActorID(r.Context()); !actor.IsNil() {
		return "actor:" + actor.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func addHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
