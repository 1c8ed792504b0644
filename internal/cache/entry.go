package cache

import (
	"time"
)

// Named expiry tiers. The engine accepts any duration; these are the
// defaults callers pick from.
const (
	Short     = 5 * time.Minute
	Medium    = 30 * time.Minute
	Long      = 24 * time.Hour
	Permanent = time.Duration(-1)
)

// Entry is the unit stored by every tier. Timestamp and Expiry are in
// milliseconds so the persisted form stays stable across implementations.
type Entry struct {
	Data      any   `json:"data"`
	Timestamp int64 `json:"timestamp"`
	Expiry    int64 `json:"expiry"`
}

// newEntry stamps data at now. A zero or negative expiry other than
// Permanent falls back to Medium.
func newEntry(data any, expiry time.Duration, now time.Time) Entry {
	return Entry{
		Data:      data,
		Timestamp: now.UnixMilli(),
		Expiry:    expiryMillis(normalizeExpiry(expiry)),
	}
}

// Valid reports whether the entry may still be served at now.
func (e Entry) Valid(now time.Time) bool {
	if e.Expiry == expiryMillis(Permanent) {
		return true
	}
	return now.UnixMilli()-e.Timestamp <= e.Expiry
}

// ExpiresAt returns the zero time for permanent entries.
func (e Entry) ExpiresAt() time.Time {
	if e.Expiry == expiryMillis(Permanent) {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp + e.Expiry)
}

func normalizeExpiry(expiry time.Duration) time.Duration {
	if expiry == Permanent {
		return Permanent
	}
	if expiry <= 0 {
		return Medium
	}
	return expiry
}

func expiryMillis(d time.Duration) int64 {
	if d == Permanent {
		return -1
	}
	return d.Milliseconds()
}
