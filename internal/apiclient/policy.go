package apiclient

import (
	"strings"
	"time"

	"github.com/saxonscout/scoutcache/internal/cache"
)

// Policy decides whether and where a GET response is cached.
type Policy struct {
	Enabled bool
	TTL     time.Duration
	Tier    cache.TierKind
}

// DefaultPolicy caches in memory for cache.Medium.
var DefaultPolicy = Policy{Enabled: true, TTL: cache.Medium, Tier: cache.TierMemory}

// PolicyOverride changes selected fields of a Policy for one call. Zero
// fields leave the base value alone.
type PolicyOverride struct {
	Enabled *bool
	TTL     time.Duration
	Tier    cache.TierKind
}

// NoCache skips the cache entirely for one call.
func NoCache() PolicyOverride {
	disabled := false
	return PolicyOverride{Enabled: &disabled}
}

// TTL keeps the response for d.
func TTL(d time.Duration) PolicyOverride {
	return PolicyOverride{TTL: d}
}

// InTier stores the response in the given tier.
func InTier(kind cache.TierKind) PolicyOverride {
	return PolicyOverride{Tier: kind}
}

// IsZero reports whether o changes nothing.
func (o PolicyOverride) IsZero() bool {
	return o.Enabled == nil && o.TTL == 0 && o.Tier == ""
}

// Merge applies o on top of p.
func (p Policy) Merge(o PolicyOverride) Policy {
	if o.Enabled != nil {
		p.Enabled = *o.Enabled
	}
	if o.TTL != 0 {
		p.TTL = o.TTL
	}
	if o.Tier != "" {
		p.Tier = o.Tier
	}
	return p
}

// Rule supplies a PolicyOverride for every GET whose path starts with
// PathPrefix, unless the call passes its own override.
type Rule struct {
	PathPrefix string
	Override   PolicyOverride
}

// Match checks if a request path falls under this rule
func (r Rule) Match(path string) bool {
	return strings.HasPrefix("/"+strings.TrimLeft(path, "/"), "/"+strings.TrimLeft(r.PathPrefix, "/"))
}
