package query

import (
	"context"
	"fmt"
	"time"

	"github.com/saxonscout/scoutcache/internal/cache"
)

// Status is where a query is in its lifecycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Options configures a Query or Batch.
type Options struct {
	// Tier defaults to the memory tier
	Tier cache.TierKind
	// TTL defaults to cache.Medium
	TTL time.Duration
	// Revalidate refreshes cache hits in the background
	Revalidate bool
	// OnError is called for every failed fetch, including failed
	// background revalidations that leave the state untouched
	OnError func(key string, err error)
	// OnChange is called after every state change
	OnChange func()
}

func (o Options) withDefaults() Options {
	if o.Tier == "" {
		o.Tier = cache.TierMemory
	}
	if o.TTL == 0 {
		o.TTL = cache.Medium
	}
	return o
}

func (o Options) reportError(key string, err error) {
	if o.OnError != nil {
		o.OnError(key, err)
	}
}

func (o Options) notify() {
	if o.OnChange != nil {
		o.OnChange()
	}
}

// call runs fetch, turning a panic into an error.
func call[T any](ctx context.Context, fetch func(context.Context) (T, error)) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()
	return fetch(ctx)
}
