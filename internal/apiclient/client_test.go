package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestNew(t *testing.T) {
	scope, _ := fixture_scope()
	c := New("api", "http://localhost:3000/api", scope)

	assert.Equal(t, "api", c.Name())
	assert.Equal(t, DefaultPolicy, c.Policy())
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
	assert.Equal(t, 30*time.Second, DefaultTimeout)
}

func TestGetServesSecondCallFromCache(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL+"/api", scope)
	ctx := context.Background()

	first, err := c.Get(ctx, "/teams", Params{"event": "2025txwac", "page": 2})
	require.NoError(t, err)
	second, err := c.Get(ctx, "/teams", Params{"page": 2, "event": "2025txwac"})
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls(), "second GET must be served from cache")
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, "/api/teams", up.last().Path)
	assert.Equal(t, "event=2025txwac&page=2", up.last().Query)
	assert.Equal(t, 1, scope.Memory().Size())
}

func TestGetDifferentParamsMiss(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	_, err := c.Get(ctx, "/matches", Params{"team": 1})
	require.NoError(t, err)
	_, err = c.Get(ctx, "/matches", Params{"team": 2})
	require.NoError(t, err)
	_, err = c.Get(ctx, "/matches", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, up.calls())
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, mock := fixture_scope()
	c := New("api", up.URL, scope, WithPolicy(Policy{Enabled: true, TTL: cache.Short, Tier: cache.TierMemory}))
	ctx := context.Background()

	_, err := c.Get(ctx, "/teams", nil)
	require.NoError(t, err)

	mock.Add(cache.Short)
	_, err = c.Get(ctx, "/teams", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls(), "still valid at exactly the TTL")

	mock.Add(time.Second)
	_, err = c.Get(ctx, "/teams", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls())
}

func TestGetNoCache(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Get(ctx, "/teams", nil, NoCache())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, up.calls())
	assert.Equal(t, 0, scope.Memory().Size())
	assert.Equal(t, 0, scope.Persistent().Size())
}

func TestGetDisabledPolicy(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope, WithPolicy(Policy{Enabled: false}))
	ctx := context.Background()

	_, _ = c.Get(ctx, "/teams", nil)
	_, _ = c.Get(ctx, "/teams", nil)
	assert.Equal(t, 2, up.calls())

	enabled := true
	_, _ = c.Get(ctx, "/teams", nil, PolicyOverride{Enabled: &enabled})
	_, _ = c.Get(ctx, "/teams", nil, PolicyOverride{Enabled: &enabled})
	assert.Equal(t, 3, up.calls())
}

func TestGetPersistentTier(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("tba", up.URL, scope)
	ctx := context.Background()

	_, err := c.Get(ctx, "/events", nil, InTier(cache.TierPersistent), TTL(cache.Long))
	require.NoError(t, err)
	_, err = c.Get(ctx, "/events", nil, InTier(cache.TierPersistent))
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls())
	assert.Equal(t, 0, scope.Memory().Size())
	assert.Equal(t, 1, scope.Persistent().Size())
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	fail := atomic.NewBool(true)
	up := fixture_upstream(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		echoHandler(w, r)
	})
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	_, err := c.Get(ctx, "/teams", nil)
	require.Error(t, err)
	assert.Equal(t, 0, scope.Memory().Size())

	fail.Store(false)
	_, err = c.Get(ctx, "/teams", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls())
}

func TestWritesBypassCache(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	_, err := c.Get(ctx, "/scouting/42", nil)
	require.NoError(t, err)
	require.Equal(t, 1, up.calls())

	_, err = c.Post(ctx, "/scouting/42", map[string]int{"auto": 12})
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls())
	assert.Equal(t, http.MethodPost, up.last().Method)
	assert.JSONEq(t, `{"auto":12}`, up.last().Body)

	_, err = c.Put(ctx, "/scouting/42", map[string]int{"auto": 14})
	require.NoError(t, err)
	_, err = c.Patch(ctx, "/scouting/42", map[string]int{"teleop": 3})
	require.NoError(t, err)
	_, err = c.Delete(ctx, "/scouting/42")
	require.NoError(t, err)
	_, err = c.Delete(ctx, "/scouting/42")
	require.NoError(t, err)

	assert.Equal(t, 6, up.calls(), "every write reaches the network")
	assert.Equal(t, 1, scope.Memory().Size(), "writes never populate the cache")
}

func TestRequestHeaders(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("tba", up.URL, scope, WithHeader("X-TBA-Auth-Key", "secret"))
	ctx := context.Background()

	_, err := c.Get(ctx, "/status", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", up.last().Header.Get("Accept"))
	assert.Equal(t, "secret", up.last().Header.Get("X-TBA-Auth-Key"))
	assert.Empty(t, up.last().Header.Get("Content-Type"))

	_, err = c.Post(ctx, "/status", map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, "application/json", up.last().Header.Get("Content-Type"))
}

func TestErrorNormalization(t *testing.T) {
	up := fixture_upstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Team not found","team":9999}`))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/text":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad input"))
		}
	})
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		code    string
		message string
		details any
	}{
		{
			name:    "message from body",
			path:    "/missing",
			code:    "HTTP_404",
			message: "Team not found",
			details: map[string]any{"message": "Team not found", "team": float64(9999)},
		},
		{
			name:    "empty body",
			path:    "/broken",
			code:    "HTTP_500",
			message: "request failed with status code 500",
			details: nil,
		},
		{
			name:    "text body",
			path:    "/text",
			code:    "HTTP_400",
			message: "request failed with status code 400",
			details: "bad input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Get(ctx, tt.path, nil)
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.details, apiErr.Details)
		})
	}

	assert.True(t, IsStatus(func() error { _, err := c.Get(ctx, "/missing", nil); return err }(), 404))
}

func TestNetworkError(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	base := up.URL
	up.Close()

	scope, _ := fixture_scope()
	c := New("api", base, scope)

	_, err := c.Get(context.Background(), "/teams", nil)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeNetwork, apiErr.Code)
	assert.Equal(t, map[string]any{"url": base + "/teams"}, apiErr.Details)
	assert.NotNil(t, apiErr.Unwrap())
}

func TestUnknownError(t *testing.T) {
	scope, _ := fixture_scope()
	c := New("api", "http://localhost", scope)
	ctx := context.Background()

	_, err := c.Post(ctx, "/teams", map[string]any{"fn": func() {}})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeUnknown, apiErr.Code)

	_, err = c.Get(ctx, "/teams", Params{"bad": struct{}{}})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeUnknown, apiErr.Code)

	_, err = New("api", "http://[::1", scope).Get(ctx, "/teams", nil, NoCache())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeUnknown, apiErr.Code)
}

func TestRulesSupplyPolicy(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope, WithRules(
		Rule{PathPrefix: "/events", Override: PolicyOverride{Tier: cache.TierPersistent, TTL: cache.Long}},
		Rule{PathPrefix: "live", Override: NoCache()},
	))
	ctx := context.Background()

	_, err := c.Get(ctx, "/events/2025txwac", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, scope.Persistent().Size())

	_, _ = c.Get(ctx, "/live/scores", nil)
	_, _ = c.Get(ctx, "/live/scores", nil)
	assert.Equal(t, 3, up.calls())

	// an explicit override wins over the rule
	_, err = c.Get(ctx, "/events/2025txcmp", nil, InTier(cache.TierMemory))
	require.NoError(t, err)
	assert.Equal(t, 1, scope.Memory().Size())
	assert.Equal(t, 1, scope.Persistent().Size())
}

func TestConcurrentMissesShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	up := fixture_upstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		echoHandler(w, r)
	})
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := c.Get(ctx, "/teams", nil)
			assert.NoError(t, err)
			results[i] = body
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, up.calls())
	for _, r := range results {
		assert.JSONEq(t, string(results[0]), string(r))
	}
}

func TestCancelledCallerDoesNotFailSharedRequest(t *testing.T) {
	received := make(chan struct{}, 1)
	release := make(chan struct{})
	up := fixture_upstream(t, func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		<-release
		echoHandler(w, r)
	})
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA, "/teams", nil)
		errA <- err
	}()
	<-received

	type result struct {
		body json.RawMessage
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		body, err := c.Get(context.Background(), "/teams", nil)
		resB <- result{body, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, CodeNetwork, apiErr.Code)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.JSONEq(t, `{"path":"/teams","query":""}`, string(b.body))
	assert.Equal(t, 1, up.calls())
	assert.Equal(t, 1, scope.Memory().Size())
}

func TestCachedBodyIsNotAliased(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	first, err := c.Get(ctx, "/teams", nil)
	require.NoError(t, err)
	original := string(first)
	first[0] = 'X'

	second, err := c.Get(ctx, "/teams", nil)
	require.NoError(t, err)
	assert.Equal(t, original, string(second))
}

func TestClearCache(t *testing.T) {
	up := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	c := New("api", up.URL, scope)
	ctx := context.Background()

	_, _ = c.Get(ctx, "/a", nil)
	_, _ = c.Get(ctx, "/b", nil, InTier(cache.TierPersistent))

	c.ClearCache(cache.TierMemory)
	assert.Equal(t, 0, scope.Memory().Size())
	assert.Equal(t, 1, scope.Persistent().Size())

	c.ClearCache()
	assert.Equal(t, 0, scope.Persistent().Size())

	c.ClearExpiredCache()
}

func TestClientsShareScopeWithoutCollisions(t *testing.T) {
	local := fixture_upstream(t, echoHandler)
	remote := fixture_upstream(t, echoHandler)
	scope, _ := fixture_scope()
	api := New("api", local.URL, scope)
	tba := New("tba", remote.URL, scope)
	ctx := context.Background()

	_, _ = api.Get(ctx, "/teams", nil)
	_, _ = tba.Get(ctx, "/teams", nil)
	_, _ = api.Get(ctx, "/teams", nil)
	_, _ = tba.Get(ctx, "/teams", nil)

	assert.Equal(t, 1, local.calls())
	assert.Equal(t, 1, remote.calls())
	assert.Equal(t, 2, scope.Memory().Size())
}

func TestPayload(t *testing.T) {
	assert.Equal(t, `null`, string(payload(nil)))
	assert.Equal(t, `null`, string(payload([]byte("  \n"))))
	assert.Equal(t, `{"a":1}`, string(payload([]byte(`{"a":1}`))))
	assert.Equal(t, `"OK"`, string(payload([]byte("OK"))))
}
