// Package gin provides Gin middleware for rate limit enforcement and usage
// recording.
package gin

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// TenantExtractor extracts the tenant ID and plan tier from a Gin context.
// Return an empty tenant ID if the caller is not authenticated.
type TenantExtractor func(c *gongin.Context) (tenantID, planTier string)

// CallerIPExtractor extracts the caller IP from a Gin context.
type CallerIPExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Engine is the rate limit engine instance (required)
	Engine *payarmor.Engine

	// Recorder records billing usage after each request. Optional.
	Recorder *payarmor.Recorder

	// GetTenant extracts the tenant ID and plan tier from context (required)
	GetTenant TenantExtractor

	// GetCallerIP extracts the caller IP from context
	// Default: gin's ClientIP (honors trusted proxy configuration)
	GetCallerIP CallerIPExtractor

	// OnRejected is called when a rate limit is exceeded
	// If nil, returns 429 JSON with rate limit headers
	OnRejected func(c *gongin.Context, result *payarmor.Result)

	// OnUnauthorized is called when the tenant cannot be identified
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that enforces rate limits before the
// handler runs and records usage after it completes.
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.GetCallerIP == nil {
		cfg.GetCallerIP = func(c *gongin.Context) string { return c.ClientIP() }
	}

	return func(c *gongin.Context) {
		tenantID, tier := cfg.GetTenant(c)
		if tenantID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		result, err := cfg.Engine.Check(c.Request.Context(), payarmor.CheckRequest{
			TenantID: tenantID,
			PlanTier: tier,
			Endpoint: c.Request.URL.Path,
			CallerIP: cfg.GetCallerIP(c),
		})
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))

		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter(result)))
			if cfg.OnRejected != nil {
				cfg.OnRejected(c, result)
			} else {
				c.JSON(http.StatusTooManyRequests, gongin.H{
					"error": "Rate limit exceeded",
					"rule":  result.Rule,
					"limit": result.Limit,
				})
			}
			c.Abort()
			return
		}

		start := time.Now()
		c.Next()

		if cfg.Recorder != nil {
			cfg.Recorder.LogUsage(c.Request.Context(), tenantID, c.Request.URL.Path,
				c.Writer.Status() < 500, time.Since(start))
		}
	}
}

// DefaultTenantFromHeader extracts the tenant from the X-Tenant-ID and
// X-Plan-Tier headers. Intended for gateways that authenticate upstream.
func DefaultTenantFromHeader(c *gongin.Context) (string, string) {
	return strings.TrimSpace(c.GetHeader("X-Tenant-ID")),
		strings.TrimSpace(c.GetHeader("X-Plan-Tier"))
}

func retryAfter(result *payarmor.Result) float64 {
	secs := time.Until(result.ResetTime).Seconds()
	if secs < 1 {
		secs = 1
	}
	return secs
}
