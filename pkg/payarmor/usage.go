package payarmor

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetricAPICalls is the generic metric every call is billed under.
const MetricAPICalls = "api_calls"

// RecorderConfig configures the usage recorder.
type RecorderConfig struct {
	// CostTable maps endpoint prefixes to per-call cost, resolved by
	// longest-prefix match. The "" key is the default rate.
	// Defaults to DefaultCostTable.
	CostTable map[string]float64

	// Categories maps endpoint prefixes to the category-specific metric
	// billed alongside api_calls. Defaults to DefaultCategories.
	Categories map[string]string

	// SampleRate is the fraction of calls whose latency is persisted
	// (default 0.01). Sampling bounds storage growth while keeping
	// statistically useful data.
	SampleRate float64

	// WriteTimeout bounds each background store write (default 5s).
	WriteTimeout time.Duration

	// Logger is used for swallowed persistence errors (default: NoopLogger).
	Logger Logger

	// Metrics tracks usage write outcomes (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the time source, for tests.
	Now func() time.Time

	// Sample overrides the sampling draw in [0,1), for tests.
	Sample func() float64
}

// DefaultCostTable returns the static per-call cost table keyed by endpoint
// prefix.
func DefaultCostTable() map[string]float64 {
	return map[string]float64{
		"":                 0.005, // default rate
		"/v1/payments":     0.05,
		"/v1/transactions": 0.02,
		"/v1/biometric":    0.10,
		"/v1/webhooks":     0.01,
	}
}

// DefaultCategories returns the endpoint categories billed with their own
// metric in addition to api_calls.
func DefaultCategories() map[string]string {
	return map[string]string{
		"/v1/payments":     "payment_calls",
		"/v1/transactions": "transaction_calls",
		"/v1/biometric":    "biometric_calls",
		"/v1/webhooks":     "webhook_calls",
	}
}

// Recorder records billable API usage and performance samples off the hot
// path. LogUsage never blocks and never surfaces an error to the caller;
// persistence failures are logged and counted, nothing more.
type Recorder struct {
	store  UsageStore
	config RecorderConfig
	wg     sync.WaitGroup
}

// NewRecorder creates a usage recorder backed by the given store.
func NewRecorder(store UsageStore, config RecorderConfig) (*Recorder, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.CostTable == nil {
		config.CostTable = DefaultCostTable()
	}
	if config.Categories == nil {
		config.Categories = DefaultCategories()
	}
	if config.SampleRate == 0 {
		config.SampleRate = 0.01
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if config.Sample == nil {
		config.Sample = rand.Float64
	}
	return &Recorder{store: store, config: config}, nil
}

// LogUsage records one observed call: the generic api_calls metric, a
// category metric when the endpoint matches a known category, and a sampled
// latency observation. Fire-and-forget.
func (r *Recorder) LogUsage(ctx context.Context, tenantID, endpoint string, success bool, responseTime time.Duration) {
	now := r.config.Now()
	sampled := r.config.Sample() < r.config.SampleRate

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.config.Logger.Error("usage recording panicked",
					TenantField(tenantID),
					Field{Key: "panic", Value: rec})
			}
		}()

		// Detach from the request context so cancellation of the
		// observed request never drops billing data.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.WriteTimeout)
		defer cancel()

		period := now.Format("2006-01")
		cost := r.costFor(endpoint)

		r.increment(writeCtx, tenantID, period, MetricAPICalls, cost)
		if metric := r.categoryFor(endpoint); metric != "" {
			r.increment(writeCtx, tenantID, period, metric, cost)
		}

		if sampled {
			sample := &PerfSample{
				ID:         uuid.NewString(),
				TenantID:   tenantID,
				Endpoint:   endpoint,
				Success:    success,
				DurationMs: responseTime.Milliseconds(),
				At:         now,
			}
			if err := r.store.RecordSample(writeCtx, sample); err != nil {
				r.config.Logger.Warn("failed to record performance sample",
					TenantField(tenantID),
					ErrField(err))
			}
		}
	}()
}

// Close waits for all pending background writes to complete.
func (r *Recorder) Close() {
	r.wg.Wait()
}

func (r *Recorder) increment(ctx context.Context, tenantID, period, metric string, cost float64) {
	err := r.store.IncrementUsage(ctx, tenantID, period, metric, 1, cost)
	r.config.Metrics.RecordUsageWrite(metric, err)
	if err != nil {
		r.config.Logger.Warn("failed to record usage",
			TenantField(tenantID),
			Field{Key: "metric", Value: metric},
			ErrField(err))
	}
}

// costFor resolves the per-call cost by longest-prefix match, falling back to
// the default rate under the "" key.
func (r *Recorder) costFor(endpoint string) float64 {
	var (
		best string
		cost = r.config.CostTable[""]
		hit  bool
	)
	for prefix, c := range r.config.CostTable {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(endpoint, prefix) && (!hit || len(prefix) > len(best)) {
			best = prefix
			cost = c
			hit = true
		}
	}
	return cost
}

func (r *Recorder) categoryFor(endpoint string) string {
	var (
		best   string
		metric string
	)
	for prefix, m := range r.config.Categories {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > len(best) {
			best = prefix
			metric = m
		}
	}
	return metric
}
