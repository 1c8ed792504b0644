package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type team struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

func fixture_scope() (*cache.Scope, *clock.Mock) {
	mock := clock.NewMock()
	return cache.NewScope(cache.Options{Clock: mock}), mock
}

// counting returns a fetcher yielding value and the number of times it ran.
func counting[T any](value T, err error) (Fetcher[T], *atomic.Int32) {
	calls := atomic.NewInt32(0)
	return func(context.Context) (T, error) {
		calls.Inc()
		return value, err
	}, calls
}

func TestQueryMissFetchesAndCaches(t *testing.T) {
	scope, _ := fixture_scope()
	fetch, calls := counting("fresh", nil)

	q := New[string](scope, Options{})
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	state := q.State()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, "fresh", state.Data)
	assert.True(t, state.HasData)
	assert.False(t, state.IsLoading)
	assert.NoError(t, state.Error)

	cached, found := scope.Memory().Get("k")
	require.True(t, found)
	assert.Equal(t, "fresh", cached)

	other := New[string](scope, Options{})
	other.Use(context.Background(), "k", fetch)
	other.Wait()
	assert.Equal(t, "fresh", other.State().Data)
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueryCacheHitIsSynchronous(t *testing.T) {
	scope, _ := fixture_scope()
	scope.Memory().Set("k", "cached", cache.Medium)
	fetch, calls := counting("fresh", nil)

	q := New[string](scope, Options{})
	q.Use(context.Background(), "k", fetch)

	state := q.State()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, "cached", state.Data)
	assert.False(t, state.IsLoading)

	q.Wait()
	assert.EqualValues(t, 0, calls.Load())
}

func TestQueryRevalidateFailureKeepsCachedData(t *testing.T) {
	scope, _ := fixture_scope()
	scope.Memory().Set("k", "cached", cache.Medium)

	var reported []string
	errs := atomic.NewInt32(0)
	release := make(chan struct{})
	q := New[string](scope, Options{
		Revalidate: true,
		OnError: func(key string, err error) {
			errs.Inc()
			reported = append(reported, key)
		},
	})
	q.Use(context.Background(), "k", func(context.Context) (string, error) {
		<-release
		return "", errors.New("offline")
	})

	// resolved from cache before the revalidation finishes
	assert.Equal(t, "cached", q.State().Data)
	assert.Equal(t, StatusSuccess, q.State().Status)

	close(release)
	q.Wait()

	state := q.State()
	assert.Equal(t, "cached", state.Data)
	assert.Equal(t, StatusSuccess, state.Status)
	assert.NoError(t, state.Error)
	assert.EqualValues(t, 1, errs.Load())
	assert.Equal(t, []string{"k"}, reported)
}

func TestQueryRevalidateSuccessOverwrites(t *testing.T) {
	scope, _ := fixture_scope()
	scope.Memory().Set("k", "cached", cache.Medium)
	fetch, calls := counting("fresh", nil)

	q := New[string](scope, Options{Revalidate: true})
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	assert.Equal(t, "fresh", q.State().Data)
	assert.EqualValues(t, 1, calls.Load())

	cached, _ := scope.Memory().Get("k")
	assert.Equal(t, "fresh", cached)
}

func TestQueryFetchError(t *testing.T) {
	scope, _ := fixture_scope()
	boom := errors.New("boom")
	fetch, _ := counting("", boom)
	errs := atomic.NewInt32(0)

	q := New[string](scope, Options{OnError: func(string, error) { errs.Inc() }})
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	state := q.State()
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorIs(t, state.Error, boom)
	assert.False(t, state.HasData)
	assert.False(t, state.IsLoading)
	assert.EqualValues(t, 1, errs.Load())

	_, found := scope.Memory().Get("k")
	assert.False(t, found)
}

func TestQueryFetcherPanic(t *testing.T) {
	scope, _ := fixture_scope()

	q := New[string](scope, Options{})
	q.Use(context.Background(), "k", func(context.Context) (string, error) {
		panic("kaboom")
	})
	q.Wait()

	state := q.State()
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorContains(t, state.Error, "kaboom")
}

func TestQueryRefetchBypassesCache(t *testing.T) {
	scope, _ := fixture_scope()
	scope.Memory().Set("k", "cached", cache.Medium)
	fetch, calls := counting("fresh", nil)

	q := New[string](scope, Options{})
	q.Use(context.Background(), "k", fetch)
	assert.Equal(t, "cached", q.State().Data)

	q.Refetch(context.Background())
	q.Wait()

	assert.Equal(t, "fresh", q.State().Data)
	assert.EqualValues(t, 1, calls.Load())
	cached, _ := scope.Memory().Get("k")
	assert.Equal(t, "fresh", cached)
}

func TestQueryRefetchBeforeUse(t *testing.T) {
	scope, _ := fixture_scope()

	q := New[string](scope, Options{})
	q.Refetch(context.Background())
	q.Wait()

	assert.Equal(t, StatusIdle, q.State().Status)
}

func TestQuerySameKeyDoesNotReload(t *testing.T) {
	scope, _ := fixture_scope()
	fetch, calls := counting("v", nil)

	q := New[string](scope, Options{})
	q.Use(context.Background(), "k", fetch)
	q.Wait()
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestQueryStaleResultIsDropped(t *testing.T) {
	scope, _ := fixture_scope()
	release := make(chan struct{})

	q := New[string](scope, Options{})
	q.Use(context.Background(), "old", func(context.Context) (string, error) {
		<-release
		return "old value", nil
	})
	q.Use(context.Background(), "new", func(context.Context) (string, error) {
		return "new value", nil
	})

	close(release)
	q.Wait()

	state := q.State()
	assert.Equal(t, "new", state.Key)
	assert.Equal(t, "new value", state.Data)
	assert.Equal(t, StatusSuccess, state.Status)

	_, found := scope.Memory().Get("old")
	assert.False(t, found)
}

func TestQueryKeyChangeResetsData(t *testing.T) {
	scope, _ := fixture_scope()
	release := make(chan struct{})

	q := New[string](scope, Options{})
	q.Use(context.Background(), "a", func(context.Context) (string, error) { return "a", nil })
	q.Wait()

	q.Use(context.Background(), "b", func(context.Context) (string, error) {
		<-release
		return "b", nil
	})
	state := q.State()
	assert.True(t, state.IsLoading)
	assert.False(t, state.HasData)
	assert.Empty(t, state.Data)

	close(release)
	q.Wait()
	assert.Equal(t, "b", q.State().Data)
}

func TestQueryCloseDropsResults(t *testing.T) {
	scope, _ := fixture_scope()
	release := make(chan struct{})
	errs := atomic.NewInt32(0)

	q := New[string](scope, Options{OnError: func(string, error) { errs.Inc() }})
	q.Use(context.Background(), "k", func(context.Context) (string, error) {
		<-release
		return "", errors.New("late")
	})
	q.Close()

	close(release)
	q.Wait()

	assert.Equal(t, StatusLoading, q.State().Status)
	assert.EqualValues(t, 0, errs.Load())
}

func TestQueryPersistentTier(t *testing.T) {
	scope, _ := fixture_scope()
	fetch, calls := counting(team{Number: 5499, Name: "Bear Bots"}, nil)

	q := New[team](scope, Options{Tier: cache.TierPersistent, TTL: cache.Long})
	q.Use(context.Background(), "team:5499", fetch)
	q.Wait()

	other := New[team](scope, Options{Tier: cache.TierPersistent})
	other.Use(context.Background(), "team:5499", fetch)

	assert.Equal(t, team{Number: 5499, Name: "Bear Bots"}, other.State().Data)
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueryPersistentTierUntyped(t *testing.T) {
	scope, _ := fixture_scope()
	fetch, calls := counting[any](map[string]any{"n": float64(1)}, nil)

	q := New[any](scope, Options{Tier: cache.TierPersistent})
	q.Use(context.Background(), "stats", fetch)
	q.Wait()
	fresh := q.State().Data

	other := New[any](scope, Options{Tier: cache.TierPersistent})
	other.Use(context.Background(), "stats", fetch)

	assert.EqualValues(t, 1, calls.Load())
	assert.IsType(t, fresh, other.State().Data)
	assert.Equal(t, fresh, other.State().Data)
}

func TestQueryTTL(t *testing.T) {
	scope, mock := fixture_scope()
	fetch, calls := counting("v", nil)

	q := New[string](scope, Options{TTL: 100 * time.Millisecond})
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	mock.Add(150 * time.Millisecond)

	again := New[string](scope, Options{})
	again.Use(context.Background(), "k", fetch)
	again.Wait()

	assert.EqualValues(t, 2, calls.Load())
}

func TestQueryOnChange(t *testing.T) {
	scope, _ := fixture_scope()
	changes := atomic.NewInt32(0)
	fetch, _ := counting("v", nil)

	q := New[string](scope, Options{OnChange: func() { changes.Inc() }})
	q.Use(context.Background(), "k", fetch)
	q.Wait()

	// loading, then success
	assert.EqualValues(t, 2, changes.Load())
}
