package payarmor

import (
	"context"
	"time"
)

// EngineConfig configures the rate limit rule engine.
type EngineConfig struct {
	// TierRules maps plan tier names to their base rule sets.
	// Defaults to DefaultTierRules.
	TierRules map[string][]Rule

	// EndpointRules maps endpoint prefixes to additional rule sets,
	// selected by longest-prefix match and unioned with the tier rules.
	// Defaults to DefaultEndpointRules.
	EndpointRules map[string][]Rule

	// DefaultTier is used when a check names an unknown tier. When empty,
	// unknown tiers are rejected with ErrUnknownTier.
	DefaultTier string

	// CircuitBreaker guards the counter store. Disabled by default.
	CircuitBreaker CircuitBreakerConfig

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking admission decisions (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the time source, for tests.
	Now func() time.Time
}

// Engine evaluates admission control rules against a counter store.
//
// Rules compose with AND semantics: the tier rule set is unioned with the
// matching endpoint rule set and evaluated in order. Every rule evaluated
// before a block still consumes quota, so partial admission is accounted
// fail-closed. When the store is unreachable the engine fails open: rate
// limiting must never be a single point of failure for payment availability.
type Engine struct {
	store   CounterStore
	config  EngineConfig
	breaker *circuitBreaker
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewEngine creates a rule engine backed by the given counter store.
func NewEngine(store CounterStore, config EngineConfig) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.TierRules == nil {
		config.TierRules = DefaultTierRules()
	}
	if config.EndpointRules == nil {
		config.EndpointRules = DefaultEndpointRules()
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

	e := &Engine{
		store:   store,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}
	if config.CircuitBreaker.Enabled {
		e.breaker = newCircuitBreaker(config.CircuitBreaker, func(state CircuitBreakerState) {
			e.metrics.RecordCircuitBreakerStateChange(string(state))
			e.logger.Warn("counter store circuit breaker state change",
				Field{Key: "state", Value: string(state)})
		})
	}
	return e, nil
}

// Check evaluates every applicable rule for the request. The first rule that
// would be exceeded short-circuits with Allowed=false and that rule's
// metadata. On store failure the request is admitted with Degraded set.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*Result, error) {
	started := e.now()

	rules, err := e.resolveRules(req.PlanTier, req.Endpoint)
	if err != nil {
		return nil, err
	}

	now := e.now()
	result := &Result{Allowed: true, Remaining: -1}

	for _, rule := range rules {
		count, degraded := e.incr(ctx, counterKey(req.TenantID, rule, req.CallerIP, now), rule.Window)
		if degraded {
			result.Degraded = true
			continue
		}

		if count > rule.MaxRequests {
			blocked := &Result{
				Allowed:   false,
				Rule:      rule.Name,
				Limit:     rule.MaxRequests,
				Remaining: 0,
				ResetTime: windowReset(rule, now),
				TotalHits: count,
				Degraded:  result.Degraded,
			}
			e.metrics.RecordAdmission(req.TenantID, rule.Name, false, e.now().Sub(started))
			return blocked, nil
		}

		remaining := rule.MaxRequests - count
		if result.Remaining < 0 || remaining < result.Remaining {
			result.Rule = rule.Name
			result.Limit = rule.MaxRequests
			result.Remaining = remaining
			result.ResetTime = windowReset(rule, now)
			result.TotalHits = count
		}
	}

	if result.Remaining < 0 {
		// Every rule degraded; nothing was accounted.
		result.Remaining = 0
	}
	e.metrics.RecordAdmission(req.TenantID, result.Rule, true, e.now().Sub(started))
	return result, nil
}

// resolveRules unions the tier base rules with the longest-prefix endpoint
// rules. Tier rules are evaluated first.
func (e *Engine) resolveRules(planTier, endpoint string) ([]Rule, error) {
	tierRules, ok := e.config.TierRules[planTier]
	if !ok {
		tierRules, ok = e.config.TierRules[e.config.DefaultTier]
		if !ok {
			return nil, ErrUnknownTier
		}
	}

	endpointRules := matchEndpointRules(e.config.EndpointRules, endpoint)
	if len(endpointRules) == 0 {
		return tierRules, nil
	}

	rules := make([]Rule, 0, len(tierRules)+len(endpointRules))
	rules = append(rules, tierRules...)
	rules = append(rules, endpointRules...)
	return rules, nil
}

// incr increments one counter, routing failures through the breaker. The
// second return value reports that the increment did not happen and the rule
// must fail open.
func (e *Engine) incr(ctx context.Context, key string, window time.Duration) (int64, bool) {
	if e.breaker != nil && !e.breaker.Allow() {
		return 0, true
	}

	started := e.now()
	count, err := e.store.Incr(ctx, key, window)
	e.metrics.RecordStoreOperation("counter_incr", e.now().Sub(started), err)

	if err != nil {
		if e.breaker != nil {
			e.breaker.Failure()
		}
		e.logger.Warn("counter store unavailable, failing open",
			Field{Key: "key", Value: key},
			ErrField(err))
		return 0, true
	}
	if e.breaker != nil {
		e.breaker.Success()
	}
	return count, false
}
