package cache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/saxonscout/scoutcache/internal/cache/storage"
)

// Options configures a Scope.
type Options struct {
	// Clock defaults to wall time
	Clock clock.Clock
	// Storage backs the persistent tier; defaults to an unbounded in-process store
	Storage storage.Storage
	// Prefix namespaces persistent keys; defaults to DefaultPrefix
	Prefix string
	// SweepInterval defaults to DefaultSweepInterval
	SweepInterval time.Duration
	// OnFault observes persistent tier faults
	OnFault FaultHandler
}

// Scope is the handle shared by every client and query of an application:
// one memory tier, one persistent tier and the sweeper that keeps both
// tidy. Independent scopes never see each other's entries.
type Scope struct {
	clock      clock.Clock
	memory     *MemoryCache
	persistent *PersistentCache
	sweeper    *Sweeper
}

func NewScope(opts Options) *Scope {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewMemory(0)
	}

	memory := NewMemory(opts.Clock)
	persistent := NewPersistent(opts.Storage, PersistentOptions{
		Prefix:  opts.Prefix,
		Clock:   opts.Clock,
		OnFault: opts.OnFault,
	})

	return &Scope{
		clock:      opts.Clock,
		memory:     memory,
		persistent: persistent,
		sweeper:    NewSweeper(opts.Clock, opts.SweepInterval, memory, persistent),
	}
}

// Init starts the periodic sweep. It stops when ctx ends or on Dispose.
func (s *Scope) Init(ctx context.Context) {
	s.sweeper.Start(ctx)
}

// Dispose stops the sweep and closes the persistent storage.
func (s *Scope) Dispose() error {
	s.sweeper.Stop()
	return s.persistent.Close()
}

// Tier returns the tier of the given kind. Unknown kinds get the memory tier.
func (s *Scope) Tier(kind TierKind) Tier {
	if kind == TierPersistent {
		return s.persistent
	}
	return s.memory
}

func (s *Scope) Memory() *MemoryCache {
	return s.memory
}

func (s *Scope) Persistent() *PersistentCache {
	return s.persistent
}

func (s *Scope) Clock() clock.Clock {
	return s.clock
}

func (s *Scope) Sweeper() *Sweeper {
	return s.sweeper
}

// Clear empties the named tiers, or both when none are named.
func (s *Scope) Clear(kinds ...TierKind) {
	for _, k := range orAll(kinds) {
		s.Tier(k).Clear()
	}
}

// ClearExpired sweeps the named tiers, or both when none are named.
func (s *Scope) ClearExpired(kinds ...TierKind) {
	for _, k := range orAll(kinds) {
		s.Tier(k).ClearExpired()
	}
}

// Stats reports size and hit counters of both tiers.
func (s *Scope) Stats() []TierStats {
	return []TierStats{
		s.memory.stats.snapshot(s.memory),
		s.persistent.stats.snapshot(s.persistent),
	}
}

func orAll(kinds []TierKind) []TierKind {
	if len(kinds) == 0 {
		return AllTiers
	}
	return kinds
}
