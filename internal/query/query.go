package query

import (
	"context"
	"sync"

	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/sirupsen/logrus"
)

// Fetcher produces the value of the active key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is what a Query exposes to its consumer.
type State[T any] struct {
	Key       string
	Data      T
	HasData   bool
	IsLoading bool
	Error     error
	Status    Status
}

// Query keeps one cached value, its loading state and its error for a key
// that may change over time.
//
// Every load takes a new generation number; a result is committed only if
// its generation is still current, so a slow fetch for an old key (or one
// that finished after Close) never overwrites newer state.
type Query[T any] struct {
	tier cache.Tier
	opts Options

	mu      sync.Mutex
	gen     uint64
	started bool
	closed  bool
	key     string
	fetcher Fetcher[T]
	state   State[T]

	inflight sync.WaitGroup
}

func New[T any](scope *cache.Scope, opts Options) *Query[T] {
	opts = opts.withDefaults()
	return &Query[T]{
		tier:  scope.Tier(opts.Tier),
		opts:  opts,
		state: State[T]{Status: StatusIdle},
	}
}

// Use binds the query to key. The first call and every call with a
// different key start a load; a cache hit is committed before Use returns.
// Calling Use with the current key only swaps the fetcher.
func (q *Query[T]) Use(ctx context.Context, key string, fetcher Fetcher[T]) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.fetcher = fetcher
	if q.started && key == q.key {
		q.mu.Unlock()
		return
	}
	if q.key != key {
		var zero T
		q.state.Data, q.state.HasData = zero, false
	}
	q.started = true
	q.key = key
	q.mu.Unlock()

	q.load(ctx, false)
}

// Refetch reloads the current key from the fetcher, ignoring the cache.
func (q *Query[T]) Refetch(ctx context.Context) {
	q.load(ctx, true)
}

// State returns a snapshot of the current state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Wait blocks until every fetch started so far has finished.
func (q *Query[T]) Wait() {
	q.inflight.Wait()
}

// Close detaches the query. Fetches still running are not aborted; their
// results are dropped.
func (q *Query[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.gen++
	q.mu.Unlock()
}

func (q *Query[T]) load(ctx context.Context, bypass bool) {
	q.mu.Lock()
	if q.closed || !q.started {
		q.mu.Unlock()
		return
	}
	q.gen++
	gen, key, fetcher := q.gen, q.key, q.fetcher
	q.state.Key = key
	q.state.IsLoading = true
	q.state.Error = nil
	q.state.Status = StatusLoading
	q.mu.Unlock()
	q.opts.notify()

	if !bypass {
		if data, ok := cache.Lookup[T](q.tier, key); ok {
			logrus.Debugf("Query cache hit for %s", key)
			committed := q.commit(gen, func(s *State[T]) {
				s.Data, s.HasData = data, true
				s.IsLoading = false
				s.Status = StatusSuccess
			})
			if committed && q.opts.Revalidate {
				q.fetch(ctx, gen, key, fetcher, true)
			}
			return
		}
	}

	q.fetch(ctx, gen, key, fetcher, false)
}

// fetch runs fetcher in the background. A revalidating fetch never
// touches the state on failure.
func (q *Query[T]) fetch(ctx context.Context, gen uint64, key string, fetcher Fetcher[T], revalidating bool) {
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()

		data, err := call(ctx, fetcher)
		if err != nil {
			if revalidating {
				if q.current(gen) {
					logrus.Debugf("Revalidation of %s failed, keeping cached value: %v", key, err)
					q.opts.reportError(key, err)
				}
				return
			}
			if q.commit(gen, func(s *State[T]) {
				s.Error = err
				s.IsLoading = false
				s.Status = StatusError
			}) {
				q.opts.reportError(key, err)
			}
			return
		}

		q.commit(gen, func(s *State[T]) {
			q.tier.Set(key, data, q.opts.TTL)
			s.Data, s.HasData = data, true
			s.Error = nil
			s.IsLoading = false
			s.Status = StatusSuccess
		})
	}()
}

// commit applies fn if gen is still the active generation.
func (q *Query[T]) commit(gen uint64, fn func(*State[T])) bool {
	q.mu.Lock()
	if q.closed || gen != q.gen {
		q.mu.Unlock()
		logrus.Debugf("Dropping stale query result (generation %d)", gen)
		return false
	}
	fn(&q.state)
	q.mu.Unlock()
	q.opts.notify()
	return true
}

func (q *Query[T]) current(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed && gen == q.gen
}
