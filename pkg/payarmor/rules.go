package payarmor

import (
	"fmt"
	"strings"
	"time"
)

// Built-in plan tier names. Tiers are plain strings so deployments can define
// their own; these three match the default rule sets.
const (
	TierStarter    = "starter"
	TierBusiness   = "business"
	TierEnterprise = "enterprise"
)

// DefaultTierRules returns the base rule sets for the three built-in tiers.
// Each tier carries per-minute, per-hour and per-day ceilings; all rules for
// a tier must pass for a request to be admitted.
func DefaultTierRules() map[string][]Rule {
	return map[string][]Rule{
		TierStarter: {
			{Name: "starter_per_minute", Window: time.Minute, MaxRequests: 60, Scope: ScopeTier},
			{Name: "starter_per_hour", Window: time.Hour, MaxRequests: 1_000, Scope: ScopeTier},
			{Name: "starter_per_day", Window: 24 * time.Hour, MaxRequests: 10_000, Scope: ScopeTier},
		},
		TierBusiness: {
			{Name: "business_per_minute", Window: time.Minute, MaxRequests: 300, Scope: ScopeTier},
			{Name: "business_per_hour", Window: time.Hour, MaxRequests: 10_000, Scope: ScopeTier},
			{Name: "business_per_day", Window: 24 * time.Hour, MaxRequests: 100_000, Scope: ScopeTier},
		},
		TierEnterprise: {
			{Name: "enterprise_per_minute", Window: time.Minute, MaxRequests: 1_000, Scope: ScopeTier},
			{Name: "enterprise_per_hour", Window: time.Hour, MaxRequests: 50_000, Scope: ScopeTier},
			{Name: "enterprise_per_day", Window: 24 * time.Hour, MaxRequests: 500_000, Scope: ScopeTier},
		},
	}
}

// DefaultEndpointRules returns tighter rule sets for sensitive endpoint
// prefixes. Which prefixes are IP-keyed is a configuration decision; the
// defaults flag payment creation, authentication and webhook ingestion.
func DefaultEndpointRules() map[string][]Rule {
	return map[string][]Rule{
		"/v1/payments": {
			{Name: "payments_per_minute", Window: time.Minute, MaxRequests: 30, Scope: ScopeEndpoint, IPSensitive: true},
		},
		"/v1/auth": {
			{Name: "auth_per_minute", Window: time.Minute, MaxRequests: 10, Scope: ScopeEndpoint, IPSensitive: true},
			{Name: "auth_per_hour", Window: time.Hour, MaxRequests: 100, Scope: ScopeEndpoint, IPSensitive: true},
		},
		"/v1/webhooks": {
			{Name: "webhooks_per_minute", Window: time.Minute, MaxRequests: 120, Scope: ScopeEndpoint, IPSensitive: true},
		},
	}
}

// counterKey derives the store key for one rule evaluation. The window index
// quantizes time so a counter naturally rolls over at window boundaries. The
// caller IP is appended only for IP-sensitive rules.
func counterKey(tenantID string, r Rule, callerIP string, now time.Time) string {
	bucket := now.UnixMilli() / r.Window.Milliseconds()
	if r.IPSensitive && callerIP != "" {
		return fmt.Sprintf("rl:%s:%s:%d:%s", tenantID, r.Name, bucket, callerIP)
	}
	return fmt.Sprintf("rl:%s:%s:%d", tenantID, r.Name, bucket)
}

// windowReset returns when the window containing now rolls over.
func windowReset(r Rule, now time.Time) time.Time {
	bucket := now.UnixMilli() / r.Window.Milliseconds()
	return time.UnixMilli((bucket + 1) * r.Window.Milliseconds()).UTC()
}

// matchEndpointRules selects the endpoint rule set whose prefix is the
// longest match for the endpoint, or nil when none matches.
func matchEndpointRules(rules map[string][]Rule, endpoint string) []Rule {
	var (
		best    string
		matched []Rule
	)
	for prefix, rs := range rules {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > len(best) {
			best = prefix
			matched = rs
		}
	}
	return matched
}
