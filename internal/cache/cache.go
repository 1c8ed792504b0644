package cache

import (
	"fmt"
	"strings"
	"time"
)

// Tier is one key->entry store. Reads never return expired data and no
// operation reports an error: a tier is an optimization layer.
type Tier interface {
	// identifies the tier in logs and stats
	Name() string
	// overwrites any entry for key, stamped at the current time
	Set(key string, data any, expiry time.Duration)
	// returns the stored data, or false when absent or expired.
	// expired entries are removed on the way out
	Get(key string) (any, bool)
	// removes the entry if present
	Delete(key string)
	// removes every entry owned by the tier
	Clear()
	// removes every entry that is no longer valid
	ClearExpired()
	// number of entries, including expired ones not yet swept
	Size() int
}

// TierKind selects one of the two tiers of a Scope.
type TierKind string

const (
	TierMemory     TierKind = "memory"
	TierPersistent TierKind = "persistent"
)

// AllTiers lists every tier kind in lookup order.
var AllTiers = []TierKind{TierMemory, TierPersistent}

// ParseTierKind accepts the names used in configuration and flags.
func ParseTierKind(s string) (TierKind, error) {
	switch TierKind(strings.ToLower(strings.TrimSpace(s))) {
	case TierMemory:
		return TierMemory, nil
	case TierPersistent:
		return TierPersistent, nil
	}
	return "", fmt.Errorf("unknown cache tier %q (want memory or persistent)", s)
}
