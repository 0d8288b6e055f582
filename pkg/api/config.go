// Package api provides HTTP endpoints for inspecting and cancelling payment
// retries and for reading usage rollups.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// UsageReader reads monthly usage rollups. Both the memory and postgres
// stores satisfy it.
type UsageReader interface {
	GetUsage(ctx context.Context, tenantID, period, metric string) (*payarmor.UsageRecord, error)
}

// Config holds configuration for the operations API handler
type Config struct {
	// Scheduler is the retry scheduler instance (required)
	Scheduler *payarmor.Scheduler

	// Usage optionally exposes usage rollups on /tenants/{tenantID}/usage
	// If nil, the usage route returns 404
	Usage UsageReader

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. Default: payarmor.NoopLogger
	Logger payarmor.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Scheduler == nil {
		return fmt.Errorf("scheduler is required")
	}
	return nil
}

// NewHandler creates a new operations API handler with the given
// configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &payarmor.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
