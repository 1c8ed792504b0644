// Package app wires a Config into a running cache scope and its clients.
package app

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/saxonscout/scoutcache/internal/apiclient"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/saxonscout/scoutcache/internal/cache/storage"
	"github.com/saxonscout/scoutcache/internal/config"
	"github.com/sirupsen/logrus"
)

// App owns the cache scope and the named clients built on it.
type App struct {
	Config  *config.Config
	Scope   *cache.Scope
	Clients *apiclient.Registry
}

// Option configures New.
type Option func(*options)

type options struct {
	clock   clock.Clock
	storage storage.Storage
	client  []apiclient.Option
}

// WithClock drives expiry and the sweeper from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithStorage replaces the configured persistent backend.
func WithStorage(s storage.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithClientOptions are applied to every client after its configuration.
func WithClientOptions(opts ...apiclient.Option) Option {
	return func(o *options) { o.client = append(o.client, opts...) }
}

// New validates cfg and builds the scope and clients. Call Init to start
// the background sweep and Dispose when done.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.storage == nil {
		o.storage = OpenStorage(cfg.Cache.Persistent)
	}
	return build(cfg, o)
}

// build owns o.storage: it is closed when the app cannot be built.
func build(cfg *config.Config, o options) (*App, error) {
	scope := cache.NewScope(cache.Options{
		Clock:         o.clock,
		Storage:       o.storage,
		Prefix:        cfg.Cache.Persistent.Prefix,
		SweepInterval: cfg.Cache.SweepInterval,
	})

	defaultTier, _ := cache.ParseTierKind(cfg.Cache.DefaultTier)
	registry := apiclient.NewRegistry()
	for name, cc := range cfg.Clients {
		client, err := NewClient(name, cc, defaultTier, scope, o.client...)
		if err != nil {
			if cerr := o.storage.Close(); cerr != nil {
				logrus.Warnf("Closing cache storage: %v", cerr)
			}
			return nil, fmt.Errorf("client %s: %w", name, err)
		}
		registry.Register(client)
	}

	return &App{Config: cfg, Scope: scope, Clients: registry}, nil
}

func (a *App) Init(ctx context.Context) {
	a.Scope.Init(ctx)
}

func (a *App) Dispose() error {
	return a.Scope.Dispose()
}

// Client is a shortcut for a.Clients.Client.
func (a *App) Client(name string) (*apiclient.Client, error) {
	return a.Clients.Client(name)
}

// OpenStorage builds the persistent backend. A backend that cannot be
// reached degrades to process memory.
func OpenStorage(p config.PersistentConfig) storage.Storage {
	switch p.Backend {
	case config.BackendDisk:
		disk := storage.NewDisk(p.Dir)
		if err := disk.Init(); err != nil {
			logrus.Warnf("Cannot use cache directory %s, falling back to memory: %v", p.Dir, err)
			return storage.NewMemory(p.Quota)
		}
		logrus.Debugf("Persistent cache in %s", disk.Dir())
		return disk
	case config.BackendRedis:
		r := storage.NewRedis(storage.RedisOptions{
			Address:  p.Redis.Address,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
		})
		if err := r.Ping(); err != nil {
			logrus.Warnf("Redis at %s unreachable, falling back to memory: %v", p.Redis.Address, err)
			_ = r.Close()
			return storage.NewMemory(p.Quota)
		}
		logrus.Debugf("Persistent cache in redis %s db %d", p.Redis.Address, p.Redis.DB)
		return r
	}
	return storage.NewMemory(p.Quota)
}

// NewClient builds one client from its configuration. defaultTier is used
// when the client names none.
func NewClient(name string, cc config.ClientConfig, defaultTier cache.TierKind, scope *cache.Scope, extra ...apiclient.Option) (*apiclient.Client, error) {
	policy, err := clientPolicy(cc, defaultTier)
	if err != nil {
		return nil, err
	}
	rules, err := clientRules(cc.Rules)
	if err != nil {
		return nil, err
	}

	opts := []apiclient.Option{
		apiclient.WithPolicy(policy),
		apiclient.WithTimeout(cc.Timeout),
		apiclient.WithRules(rules...),
	}
	for key, value := range cc.Headers {
		opts = append(opts, apiclient.WithHeader(key, value))
	}
	if cc.APIKey != "" && cc.APIKeyHeader != "" {
		opts = append(opts, apiclient.WithHeader(cc.APIKeyHeader, cc.APIKey))
	}
	opts = append(opts, extra...)

	logrus.WithFields(logrus.Fields{
		"client": name,
		"tier":   policy.Tier,
		"ttl":    policy.TTL,
	}).Debugf("Configured client for %s", cc.BaseURL)

	return apiclient.New(name, cc.BaseURL, scope, opts...), nil
}

func clientPolicy(cc config.ClientConfig, defaultTier cache.TierKind) (apiclient.Policy, error) {
	tier := defaultTier
	if cc.Cache.Tier != "" {
		var err error
		if tier, err = cache.ParseTierKind(cc.Cache.Tier); err != nil {
			return apiclient.Policy{}, err
		}
	}
	return apiclient.Policy{
		Enabled: !cc.Cache.Disabled,
		TTL:     cc.CacheTTL(),
		Tier:    tier,
	}, nil
}

func clientRules(rules []config.RuleConfig) ([]apiclient.Rule, error) {
	out := make([]apiclient.Rule, 0, len(rules))
	for _, rc := range rules {
		override := apiclient.PolicyOverride{TTL: rc.RuleTTL()}
		if rc.Disabled {
			override = apiclient.NoCache()
		}
		if rc.Tier != "" {
			tier, err := cache.ParseTierKind(rc.Tier)
			if err != nil {
				return nil, err
			}
			override.Tier = tier
		}
		out = append(out, apiclient.Rule{PathPrefix: rc.PathPrefix, Override: override})
	}
	return out, nil
}
