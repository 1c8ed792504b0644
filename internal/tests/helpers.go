package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/saxonscout/scoutcache/internal/app"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/saxonscout/scoutcache/internal/config"
)

// upstream is a fake scouting backend that counts requests per path.
type upstream struct {
	*httptest.Server

	mu    sync.Mutex
	hits  map[string]int
	fails map[string]int
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// failWith makes every later request for path answer with status.
func (u *upstream) failWith(path string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fails[path] = status
}

// fixture_upstream creates a test upstream server
func fixture_upstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{hits: map[string]int{}, fails: map[string]int{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.mu.Lock()
		u.hits[requ.URL.Path]++
		status := u.fails[requ.URL.Path]
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message": "upstream unavailable"}`))
			return
		}
		number, ok := strings.CutPrefix(requ.URL.Path, "/team/frc")
		if !ok {
			_, _ = w.Write([]byte(`{"path": "` + requ.URL.Path + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"key": "frc` + number + `", "team_number": ` + number + `}`))
	}))
	t.Cleanup(u.Close)
	return u
}

// fixture_config creates a test config with an "api" client on the memory
// tier and a "tba" client on a disk-backed persistent tier in dir.
func fixture_config(baseURL, dir string) *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Cache.Persistent.Backend = config.BackendDisk
	cfg.Cache.Persistent.Dir = dir
	cfg.Clients = map[string]config.ClientConfig{
		"api": {
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			Cache:   config.ClientCacheConfig{TTL: cache.Medium, Tier: "memory"},
		},
		"tba": {
			BaseURL:      baseURL,
			Timeout:      5 * time.Second,
			APIKey:       "test-key",
			APIKeyHeader: "X-TBA-Auth-Key",
			Cache:        config.ClientCacheConfig{TTL: cache.Long, Tier: "persistent"},
		},
	}
	return &cfg
}

// fixture_app builds and starts an app; it is disposed at cleanup.
func fixture_app(t *testing.T, cfg *config.Config, clk clock.Clock) *app.App {
	t.Helper()
	a, err := app.New(cfg, app.WithClock(clk))
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Init(ctx)
	t.Cleanup(func() { _ = a.Dispose() })
	t.Cleanup(cancel) // runs before Dispose, mirroring t.Context() (Go 1.24+)
	return a
}
