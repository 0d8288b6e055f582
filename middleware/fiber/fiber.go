// Package fiber provides Fiber middleware for rate limit enforcement and
// usage recording.
package fiber

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// TenantExtractor extracts the tenant ID and plan tier from a Fiber context.
// Return an empty tenant ID if the caller is not authenticated.
type TenantExtractor func(c *fiber.Ctx) (tenantID, planTier string)

// CallerIPExtractor extracts the caller IP from a Fiber context.
type CallerIPExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Engine is the rate limit engine instance (required)
	Engine *payarmor.Engine

	// Recorder records billing usage after each request. Optional.
	Recorder *payarmor.Recorder

	// GetTenant extracts the tenant ID and plan tier from context (required)
	GetTenant TenantExtractor

	// GetCallerIP extracts the caller IP from context
	// Default: fiber's IP (honors ProxyHeader configuration)
	GetCallerIP CallerIPExtractor

	// OnRejected is called when a rate limit is exceeded
	// If nil, returns 429 JSON with rate limit headers
	OnRejected func(c *fiber.Ctx, result *payarmor.Result) error

	// OnUnauthorized is called when the tenant cannot be identified
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that enforces rate limits before the
// handler runs and records usage after it completes.
func Middleware(cfg Config) fiber.Handler {
	if cfg.GetCallerIP == nil {
		cfg.GetCallerIP = func(c *fiber.Ctx) string { return c.IP() }
	}

	return func(c *fiber.Ctx) error {
		tenantID, tier := cfg.GetTenant(c)
		if tenantID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		result, err := cfg.Engine.Check(c.UserContext(), payarmor.CheckRequest{
			TenantID: tenantID,
			PlanTier: tier,
			Endpoint: c.Path(),
			CallerIP: cfg.GetCallerIP(c),
		})
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))

		if !result.Allowed {
			retryAfter := time.Until(result.ResetTime).Seconds()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			if cfg.OnRejected != nil {
				return cfg.OnRejected(c, result)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded",
				"rule":  result.Rule,
				"limit": result.Limit,
			})
		}

		start := time.Now()
		err = c.Next()

		if cfg.Recorder != nil {
			cfg.Recorder.LogUsage(c.UserContext(), tenantID, c.Path(),
				err == nil && c.Response().StatusCode() < 500, time.Since(start))
		}
		return err
	}
}
