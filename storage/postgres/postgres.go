// Package postgres provides PostgreSQL implementations of the
// payarmor.UsageStore and payarmor.AuditSink interfaces. Usage rollups are
// written with atomic upserts so concurrent recorders never lose increments.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// Schema contains the DDL for the tables this package writes to. Callers can
// run it through EnsureSchema during bootstrap or manage migrations
// themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	tenant_id  TEXT             NOT NULL,
	period     TEXT             NOT NULL,
	metric     TEXT             NOT NULL,
	quantity   BIGINT           NOT NULL DEFAULT 0,
	cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, period, metric)
);

CREATE TABLE IF NOT EXISTS perf_samples (
	id          TEXT        PRIMARY KEY,
	tenant_id   TEXT        NOT NULL,
	endpoint    TEXT        NOT NULL,
	success     BOOLEAN     NOT NULL,
	duration_ms BIGINT      NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_perf_samples_tenant ON perf_samples (tenant_id, recorded_at);

CREATE TABLE IF NOT EXISTS retry_outcomes (
	transaction_id TEXT        NOT NULL,
	error_code     TEXT        NOT NULL,
	attempt_count  INT         NOT NULL,
	status         TEXT        NOT NULL,
	metadata       JSONB       NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_retry_outcomes_txn ON retry_outcomes (transaction_id);
`

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Storage implements payarmor.UsageStore and payarmor.AuditSink using
// PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// NewWithPool wraps an existing connection pool. The caller retains ownership
// of the pool.
func NewWithPool(pool *pgxpool.Pool, config Config) *Storage {
	return &Storage{pool: pool, config: config}
}

// EnsureSchema creates the required tables if they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// IncrementUsage implements payarmor.UsageStore.
func (s *Storage) IncrementUsage(ctx context.Context, tenantID, period, metric string, quantity int64, cost float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (tenant_id, period, metric, quantity, cost, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (tenant_id, period, metric) DO UPDATE SET
				quantity   = usage_records.quantity + EXCLUDED.quantity,
				cost       = usage_records.cost + EXCLUDED.cost,
				updated_at = now()`,
		tenantID, period, metric, quantity, cost)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// RecordSample implements payarmor.UsageStore.
func (s *Storage) RecordSample(ctx context.Context, sample *payarmor.PerfSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO perf_samples (id, tenant_id, endpoint, success, duration_ms, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
		sample.ID, sample.TenantID, sample.Endpoint, sample.Success, sample.DurationMs, sample.At)
	if err != nil {
		return fmt.Errorf("failed to record perf sample: %w", err)
	}
	return nil
}

// RecordRetryOutcome implements payarmor.AuditSink.
func (s *Storage) RecordRetryOutcome(ctx context.Context, e *payarmor.RetryEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode retry metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO retry_outcomes (transaction_id, error_code, attempt_count, status, metadata, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		e.TransactionID, e.ErrorCode, e.AttemptCount, string(e.Status), meta, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record retry outcome: %w", err)
	}
	return nil
}

// GetUsage returns the usage record for a tenant, period, and metric, or nil
// when nothing has been recorded yet.
func (s *Storage) GetUsage(ctx context.Context, tenantID, period, metric string) (*payarmor.UsageRecord, error) {
	var rec payarmor.UsageRecord
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, period, metric, quantity, cost, updated_at
			FROM usage_records
			WHERE tenant_id = $1 AND period = $2 AND metric = $3`,
		tenantID, period, metric).Scan(
		&rec.TenantID, &rec.Period, &rec.Metric, &rec.Quantity, &rec.Cost, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &rec, nil
}
