// Package http provides HTTP middleware for rate limit enforcement and
// usage recording.
package http

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// TenantExtractor extracts the tenant ID and plan tier from an HTTP request.
// Return an empty tenant ID if the caller is not authenticated.
type TenantExtractor func(r *http.Request) (tenantID, planTier string)

// CallerIPExtractor extracts the caller IP from an HTTP request.
type CallerIPExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Engine is the rate limit engine instance (required)
	Engine *payarmor.Engine

	// Recorder records billing usage after each request. Optional.
	Recorder *payarmor.Recorder

	// GetTenant extracts the tenant ID and plan tier from request (required)
	GetTenant TenantExtractor

	// GetCallerIP extracts the caller IP from request
	// Default: X-Forwarded-For first hop, falling back to RemoteAddr
	GetCallerIP CallerIPExtractor

	// OnRejected is called when a rate limit is exceeded
	// If nil, returns 429 Too Many Requests
	OnRejected func(w http.ResponseWriter, r *http.Request, result *payarmor.Result)

	// OnUnauthorized is called when the tenant cannot be identified
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that enforces rate limits before the
// handler runs and records usage after it completes.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetCallerIP == nil {
		config.GetCallerIP = DefaultCallerIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, tier := config.GetTenant(r)
			if tenantID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			result, err := config.Engine.Check(ctx, payarmor.CheckRequest{
				TenantID: tenantID,
				PlanTier: tier,
				Endpoint: r.URL.Path,
				CallerIP: config.GetCallerIP(r),
			})
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			WriteRateLimitHeaders(w.Header(), result)
			if !result.Allowed {
				if config.OnRejected != nil {
					config.OnRejected(w, r, result)
				} else {
					msg := fmt.Sprintf("Rate limit exceeded: %s allows %d requests", result.Rule, result.Limit)
					http.Error(w, msg, http.StatusTooManyRequests)
				}
				return
			}

			if config.Recorder == nil {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			config.Recorder.LogUsage(ctx, tenantID, r.URL.Path, rec.status < 500, time.Since(start))
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces rate limits
// (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// WriteRateLimitHeaders sets the standard rate limit response headers from a
// check result.
func WriteRateLimitHeaders(h http.Header, result *payarmor.Result) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	if !result.Allowed {
		retryAfter := time.Until(result.ResetTime).Seconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		h.Set("Retry-After", strconv.Itoa(int(retryAfter)))
	}
}

// DefaultCallerIP returns the first X-Forwarded-For hop when present, falling
// back to the connection's remote address.
func DefaultCallerIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the response status for usage accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
