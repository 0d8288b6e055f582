// Package memory provides in-memory implementations of the payarmor store
// interfaces. Counters and retry entries live in process memory only, which
// suits tests and single-instance deployments; production deployments that
// must share one logical limit or survive restarts use the redis and
// postgres backends.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// Store implements payarmor.CounterStore, payarmor.RetryStore and
// payarmor.UsageStore using in-memory maps.
type Store struct {
	mu       sync.Mutex
	counters map[string]*counter
	retries  map[string]*payarmor.RetryEntry
	usage    map[string]*payarmor.UsageRecord
	samples  []*payarmor.PerfSample
	outcomes []*payarmor.RetryEntry
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		counters: make(map[string]*counter),
		retries:  make(map[string]*payarmor.RetryEntry),
		usage:    make(map[string]*payarmor.UsageRecord),
	}
}

// Incr implements payarmor.CounterStore. Expired counters are discarded
// lazily on next access.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Sweep discards expired counters. Callers that keep a store alive for a
// long time can run this periodically to bound memory.
func (s *Store) Sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.counters {
		if now.After(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}

// Insert implements payarmor.RetryStore.
func (s *Store) Insert(_ context.Context, e *payarmor.RetryEntry) (bool, error) {
	if e == nil || e.TransactionID == "" {
		return false, fmt.Errorf("invalid retry entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retries[e.TransactionID]; exists {
		return false, nil
	}
	s.retries[e.TransactionID] = e.Clone()
	return true, nil
}

// Get implements payarmor.RetryStore.
func (s *Store) Get(_ context.Context, transactionID string) (*payarmor.RetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.retries[transactionID]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Due implements payarmor.RetryStore.
func (s *Store) Due(_ context.Context, now time.Time, limit int) ([]*payarmor.RetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*payarmor.RetryEntry
	for _, e := range s.retries {
		if len(due) >= limit {
			break
		}
		if e.Status == payarmor.StatusQueued && !e.NextRetryAt.After(now) {
			due = append(due, e.Clone())
		}
	}
	return due, nil
}

// BeginAttempt implements payarmor.RetryStore with a check-and-set on the
// entry status, so concurrent scans cannot claim the same entry twice.
func (s *Store) BeginAttempt(_ context.Context, transactionID string, now time.Time) (*payarmor.RetryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.retries[transactionID]
	if !ok || e.Status != payarmor.StatusQueued {
		return nil, false, nil
	}
	e.Status = payarmor.StatusRetrying
	e.UpdatedAt = now
	return e.Clone(), true, nil
}

// Requeue implements payarmor.RetryStore. The entry must still be in the
// retrying state; a cancellation mid-attempt surfaces as ErrEntryNotFound.
func (s *Store) Requeue(_ context.Context, e *payarmor.RetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.retries[e.TransactionID]
	if !ok || cur.Status != payarmor.StatusRetrying {
		return payarmor.ErrEntryNotFound
	}
	s.retries[e.TransactionID] = e.Clone()
	return nil
}

// Remove implements payarmor.RetryStore.
func (s *Store) Remove(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.retries, transactionID)
	return nil
}

// Cancel implements payarmor.RetryStore.
func (s *Store) Cancel(_ context.Context, transactionID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.retries[transactionID]
	if !ok || e.Status.Terminal() {
		return false, nil
	}
	delete(s.retries, transactionID)
	return true, nil
}

// IncrementUsage implements payarmor.UsageStore.
func (s *Store) IncrementUsage(_ context.Context, tenantID, period, metric string, quantity int64, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(tenantID, period, metric)
	rec, ok := s.usage[key]
	if !ok {
		rec = &payarmor.UsageRecord{TenantID: tenantID, Period: period, Metric: metric}
		s.usage[key] = rec
	}
	rec.Quantity += quantity
	rec.Cost += cost
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordSample implements payarmor.UsageStore.
func (s *Store) RecordSample(_ context.Context, sample *payarmor.PerfSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sample
	s.samples = append(s.samples, &cp)
	return nil
}

// RecordRetryOutcome implements payarmor.AuditSink.
func (s *Store) RecordRetryOutcome(_ context.Context, e *payarmor.RetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, e.Clone())
	return nil
}

// GetUsage returns a copy of one usage record, or nil when absent.
func (s *Store) GetUsage(_ context.Context, tenantID, period, metric string) (*payarmor.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[usageKey(tenantID, period, metric)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Samples returns a copy of the recorded performance samples.
func (s *Store) Samples() []*payarmor.PerfSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*payarmor.PerfSample, len(s.samples))
	for i, sample := range s.samples {
		cp := *sample
		out[i] = &cp
	}
	return out
}

// Outcomes returns a copy of the mirrored terminal retry entries.
func (s *Store) Outcomes() []*payarmor.RetryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*payarmor.RetryEntry, len(s.outcomes))
	for i, e := range s.outcomes {
		out[i] = e.Clone()
	}
	return out
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = make(map[string]*counter)
	s.retries = make(map[string]*payarmor.RetryEntry)
	s.usage = make(map[string]*payarmor.UsageRecord)
	s.samples = nil
	s.outcomes = nil
}

func usageKey(tenantID, period, metric string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, period, metric)
}
