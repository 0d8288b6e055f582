package payarmor

import (
	"context"
	"time"
)

// CounterStore holds windowed admission counters. Implementations must make
// Incr atomic per key; the in-memory backend serves tests and single-instance
// deployments, the Redis backend shares one logical limit across instances.
// Counters are best-effort admission control, not a ledger, and need not
// survive restarts.
type CounterStore interface {
	// Incr atomically increments the counter at key, creating it with the
	// given TTL on first hit in a window, and returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RetryStore holds in-flight retry entries keyed by transaction id.
// Implementations must make each transition atomic per entry; no cross-entry
// transactions are required.
type RetryStore interface {
	// Insert adds a new queued entry. Returns false without writing when a
	// live entry already exists for the transaction id.
	Insert(ctx context.Context, e *RetryEntry) (bool, error)

	// Get returns a copy of the entry, or (nil, nil) when absent.
	Get(ctx context.Context, transactionID string) (*RetryEntry, error)

	// Due returns up to limit entries with status queued whose NextRetryAt
	// is at or before now, in no guaranteed order.
	Due(ctx context.Context, now time.Time, limit int) ([]*RetryEntry, error)

	// BeginAttempt atomically transitions queued -> retrying and returns
	// the claimed entry. Returns false when the entry is missing, already
	// claimed by another scan, or was cancelled.
	BeginAttempt(ctx context.Context, transactionID string, now time.Time) (*RetryEntry, bool, error)

	// Requeue atomically transitions retrying -> queued with the entry's
	// updated attempt count and schedule. Returns ErrEntryNotFound when
	// the entry is no longer live (e.g. cancelled mid-attempt).
	Requeue(ctx context.Context, e *RetryEntry) error

	// Remove deletes the entry from active scheduling.
	Remove(ctx context.Context, transactionID string) error

	// Cancel transitions a live entry (queued or retrying) to cancelled
	// and removes it from scheduling. Returns false when no live entry
	// was found.
	Cancel(ctx context.Context, transactionID string, now time.Time) (bool, error)
}

// UsageStore persists billing usage aggregates and latency samples. The
// Postgres backend is the durable production implementation; the in-memory
// backend serves tests.
type UsageStore interface {
	// IncrementUsage upserts the (tenant, period, metric) record, adding
	// quantity and cost. Records are never overwritten.
	IncrementUsage(ctx context.Context, tenantID, period, metric string, quantity int64, cost float64) error

	// RecordSample stores one sampled latency observation.
	RecordSample(ctx context.Context, s *PerfSample) error
}

// AuditSink optionally mirrors terminal retry outcomes to durable storage.
// Terminal entries are no longer scheduled; the mirror exists for audit only.
type AuditSink interface {
	RecordRetryOutcome(ctx context.Context, e *RetryEntry) error
}
