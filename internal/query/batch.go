package query

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BatchFetcher produces the value of one key.
type BatchFetcher[T any] func(ctx context.Context, key string) (T, error)

// BatchState is what a Batch exposes. DataMap keeps every key that
// resolved, even when Error is set because another key failed.
type BatchState[T any] struct {
	Keys      []string
	DataMap   map[string]T
	IsLoading bool
	// first failure of the load, in key order
	Error error
	// every failure of the load, by key
	Errors map[string]error
	Status Status
}

// Batch is Query over a list of keys, each cached and fetched on its own.
type Batch[T any] struct {
	tier cache.Tier
	opts Options

	mu      sync.Mutex
	gen     uint64
	started bool
	closed  bool
	keys    []string
	fetcher BatchFetcher[T]
	state   BatchState[T]

	inflight sync.WaitGroup
}

func NewBatch[T any](scope *cache.Scope, opts Options) *Batch[T] {
	opts = opts.withDefaults()
	return &Batch[T]{
		tier: scope.Tier(opts.Tier),
		opts: opts,
		state: BatchState[T]{
			DataMap: map[string]T{},
			Errors:  map[string]error{},
			Status:  StatusIdle,
		},
	}
}

// Use binds the batch to keys. A load starts on the first call and
// whenever the list changes; cache hits are in DataMap before Use returns.
func (b *Batch[T]) Use(ctx context.Context, keys []string, fetcher BatchFetcher[T]) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.fetcher = fetcher
	if b.started && slices.Equal(keys, b.keys) {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.keys = slices.Clone(keys)
	b.mu.Unlock()

	b.load(ctx, false)
}

// Refetch reloads every key from the fetcher, ignoring the cache.
func (b *Batch[T]) Refetch(ctx context.Context) {
	b.load(ctx, true)
}

// State returns a snapshot; its maps are copies.
func (b *Batch[T]) State() BatchState[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state
	s.Keys = slices.Clone(b.state.Keys)
	s.DataMap = maps.Clone(b.state.DataMap)
	s.Errors = maps.Clone(b.state.Errors)
	return s
}

// Wait blocks until every fetch started so far has finished.
func (b *Batch[T]) Wait() {
	b.inflight.Wait()
}

// Close detaches the batch; later results are dropped.
func (b *Batch[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.gen++
	b.mu.Unlock()
}

func (b *Batch[T]) load(ctx context.Context, bypass bool) {
	b.mu.Lock()
	if b.closed || !b.started {
		b.mu.Unlock()
		return
	}
	b.gen++
	gen, keys, fetcher := b.gen, b.keys, b.fetcher

	// values of keys that are still requested survive a key change
	data := make(map[string]T, len(keys))
	for _, k := range keys {
		if v, ok := b.state.DataMap[k]; ok {
			data[k] = v
		}
	}
	b.state = BatchState[T]{
		Keys:      slices.Clone(keys),
		DataMap:   data,
		Errors:    map[string]error{},
		IsLoading: true,
		Status:    StatusLoading,
	}
	b.mu.Unlock()
	b.opts.notify()

	var missing, hits []string
	for _, key := range keys {
		if bypass {
			missing = append(missing, key)
			continue
		}
		v, ok := cache.Lookup[T](b.tier, key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		hits = append(hits, key)
		b.commit(gen, func(s *BatchState[T]) { s.DataMap[key] = v })
	}
	logrus.Debugf("Batch load: %d cached, %d to fetch", len(hits), len(missing))

	if len(missing) == 0 {
		b.finish(gen)
	} else {
		b.fetchAll(ctx, gen, missing, fetcher)
	}

	if b.opts.Revalidate && len(hits) > 0 {
		b.revalidate(ctx, gen, hits, fetcher)
	}
}

// fetchAll fetches missing concurrently. Every fetch runs to completion;
// a failure does not cancel its siblings.
func (b *Batch[T]) fetchAll(ctx context.Context, gen uint64, missing []string, fetcher BatchFetcher[T]) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()

		var g errgroup.Group
		for _, key := range missing {
			key := key
			g.Go(func() error {
				v, err := call(ctx, func(ctx context.Context) (T, error) { return fetcher(ctx, key) })
				if err != nil {
					if b.commit(gen, func(s *BatchState[T]) { s.Errors[key] = err }) {
						b.opts.reportError(key, err)
					}
					return err
				}
				b.commit(gen, func(s *BatchState[T]) {
					b.tier.Set(key, v, b.opts.TTL)
					s.DataMap[key] = v
				})
				return nil
			})
		}
		_ = g.Wait()

		b.finish(gen)
	}()
}

// revalidate refreshes cache hits in the background. Failures go to
// OnError only.
func (b *Batch[T]) revalidate(ctx context.Context, gen uint64, hits []string, fetcher BatchFetcher[T]) {
	for _, key := range hits {
		key := key
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()

			v, err := call(ctx, func(ctx context.Context) (T, error) { return fetcher(ctx, key) })
			if err != nil {
				if b.current(gen) {
					logrus.Debugf("Revalidation of %s failed, keeping cached value: %v", key, err)
					b.opts.reportError(key, err)
				}
				return
			}
			b.commit(gen, func(s *BatchState[T]) {
				b.tier.Set(key, v, b.opts.TTL)
				s.DataMap[key] = v
			})
		}()
	}
}

// finish settles the aggregate state once every miss has been fetched.
func (b *Batch[T]) finish(gen uint64) {
	b.commit(gen, func(s *BatchState[T]) {
		s.IsLoading = false
		s.Status = StatusSuccess
		for _, k := range s.Keys {
			if err, ok := s.Errors[k]; ok {
				s.Error = err
				s.Status = StatusError
				break
			}
		}
	})
}

func (b *Batch[T]) commit(gen uint64, fn func(*BatchState[T])) bool {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		logrus.Debugf("Dropping stale batch result (generation %d)", gen)
		return false
	}
	fn(&b.state)
	b.mu.Unlock()
	b.opts.notify()
	return true
}

func (b *Batch[T]) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && gen == b.gen
}
