// Package echo provides Echo middleware for rate limit enforcement and usage
// recording.
package echo

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// TenantExtractor extracts the tenant ID and plan tier from an Echo context.
// Return an empty tenant ID if the caller is not authenticated.
type TenantExtractor func(c echo.Context) (tenantID, planTier string)

// CallerIPExtractor extracts the caller IP from an Echo context.
type CallerIPExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Engine is the rate limit engine instance (required)
	Engine *payarmor.Engine

	// Recorder records billing usage after each request. Optional.
	Recorder *payarmor.Recorder

	// GetTenant extracts the tenant ID and plan tier from context (required)
	GetTenant TenantExtractor

	// GetCallerIP extracts the caller IP from context
	// Default: echo's RealIP
	GetCallerIP CallerIPExtractor

	// OnRejected is called when a rate limit is exceeded
	// If nil, returns 429 JSON with rate limit headers
	OnRejected func(c echo.Context, result *payarmor.Result) error

	// OnUnauthorized is called when the tenant cannot be identified
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that enforces rate limits before the
// handler runs and records usage after it completes.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.GetCallerIP == nil {
		cfg.GetCallerIP = func(c echo.Context) string { return c.RealIP() }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID, tier := cfg.GetTenant(c)
			if tenantID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			result, err := cfg.Engine.Check(c.Request().Context(), payarmor.CheckRequest{
				TenantID: tenantID,
				PlanTier: tier,
				Endpoint: c.Request().URL.Path,
				CallerIP: cfg.GetCallerIP(c),
			})
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
			h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))

			if !result.Allowed {
				retryAfter := time.Until(result.ResetTime).Seconds()
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
				if cfg.OnRejected != nil {
					return cfg.OnRejected(c, result)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "Rate limit exceeded",
					"rule":  result.Rule,
					"limit": result.Limit,
				})
			}

			start := time.Now()
			err = next(c)

			if cfg.Recorder != nil {
				cfg.Recorder.LogUsage(c.Request().Context(), tenantID, c.Request().URL.Path,
					err == nil && c.Response().Status < 500, time.Since(start))
			}
			return err
		}
	}
}
