package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/sirupsen/logrus"
)

// EnvPrefix marks the environment variables that override configuration.
// Levels are separated by a double underscore.
const EnvPrefix = "SCOUTCACHE_"

// Persistent storage backends
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Log     LogConfig               `koanf:"log" yaml:"log"`
	Cache   CacheConfig             `koanf:"cache" yaml:"cache"`
	Clients map[string]ClientConfig `koanf:"clients" yaml:"clients"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" or "json"
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	DefaultTier   string           `koanf:"default_tier" yaml:"default_tier"`
	SweepInterval time.Duration    `koanf:"sweep_interval" yaml:"sweep_interval"`
	Persistent    PersistentConfig `koanf:"persistent" yaml:"persistent"`
}

// PersistentConfig selects the storage behind the persistent tier
type PersistentConfig struct {
	Backend string `koanf:"backend" yaml:"backend"`
	Prefix  string `koanf:"prefix" yaml:"prefix"`
	// Dir is used by the disk backend
	Dir string `koanf:"dir" yaml:"dir"`
	// Quota in bytes, memory backend only; 0 is unbounded
	Quota int         `koanf:"quota" yaml:"quota"`
	Redis RedisConfig `koanf:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Address  string `koanf:"address" yaml:"address"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
}

// ClientConfig describes one named API client
type ClientConfig struct {
	BaseURL string            `koanf:"base_url" yaml:"base_url"`
	Timeout time.Duration     `koanf:"timeout" yaml:"timeout"`
	Headers map[string]string `koanf:"headers" yaml:"headers"`
	// APIKey is sent in APIKeyHeader when both are set
	APIKey       string            `koanf:"api_key" yaml:"api_key"`
	APIKeyHeader string            `koanf:"api_key_header" yaml:"api_key_header"`
	Cache        ClientCacheConfig `koanf:"cache" yaml:"cache"`
	Rules        []RuleConfig      `koanf:"rules" yaml:"rules"`
}

// ClientCacheConfig is the default cache policy of a client. A negative
// TTL keeps entries forever.
type ClientCacheConfig struct {
	Disabled bool          `koanf:"disabled" yaml:"disabled"`
	TTL      time.Duration `koanf:"ttl" yaml:"ttl"`
	Tier     string        `koanf:"tier" yaml:"tier"`
}

// RuleConfig overrides the cache policy below a path prefix. Zero fields
// keep the client's value.
type RuleConfig struct {
	PathPrefix string        `koanf:"path_prefix" yaml:"path_prefix"`
	Disabled   bool          `koanf:"disabled" yaml:"disabled"`
	TTL        time.Duration `koanf:"ttl" yaml:"ttl"`
	Tier       string        `koanf:"tier" yaml:"tier"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{
			DefaultTier:   string(cache.TierMemory),
			SweepInterval: cache.DefaultSweepInterval,
			Persistent: PersistentConfig{
				Backend: BackendDisk,
				Prefix:  cache.DefaultPrefix,
				Dir:     defaultDir(),
				Quota:   5 << 20,
				Redis:   RedisConfig{Address: "localhost:6379"},
			},
		},
		Clients: DefaultClients(),
	}
}

// DefaultClients are the local scouting backend and The Blue Alliance.
func DefaultClients() map[string]ClientConfig {
	return map[string]ClientConfig{
		"api": {
			BaseURL: "http://localhost:8000/api",
			Timeout: 30 * time.Second,
			Cache: ClientCacheConfig{
				TTL:  cache.Medium,
				Tier: string(cache.TierMemory),
			},
		},
		"tba": {
			BaseURL:      "https://www.thebluealliance.com/api/v3",
			Timeout:      30 * time.Second,
			APIKeyHeader: "X-TBA-Auth-Key",
			Cache: ClientCacheConfig{
				TTL:  cache.Long,
				Tier: string(cache.TierPersistent),
			},
		},
	}
}

func defaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "scoutcache")
}

// Load layers the defaults, the YAML file at path (skipped when path is
// empty) and SCOUTCACHE_ environment variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		logrus.Debugf("Loaded config file %s", path)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &config, nil
}

// envKey maps SCOUTCACHE_CACHE__SWEEP_INTERVAL to cache.sweep_interval
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	if _, err := cache.ParseTierKind(c.Cache.DefaultTier); err != nil {
		return fmt.Errorf("cache.default_tier: %w", err)
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive, got: %s", c.Cache.SweepInterval)
	}
	if err := c.Cache.Persistent.validate(); err != nil {
		return fmt.Errorf("cache.persistent: %w", err)
	}

	if len(c.Clients) == 0 {
		return fmt.Errorf("no clients configured")
	}
	for name, client := range c.Clients {
		if err := client.validate(); err != nil {
			return fmt.Errorf("clients.%s: %w", name, err)
		}
	}
	return nil
}

func (p PersistentConfig) validate() error {
	if p.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if p.Quota < 0 {
		return fmt.Errorf("quota must not be negative")
	}

	switch p.Backend {
	case BackendMemory:
	case BackendDisk:
		if p.Dir == "" {
			return fmt.Errorf("dir is required for the disk backend")
		}
	case BackendRedis:
		if p.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("backend must be 'memory', 'disk' or 'redis', got: %s", p.Backend)
	}
	return nil
}

func (c ClientConfig) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got: %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if c.Cache.Tier != "" {
		if _, err := cache.ParseTierKind(c.Cache.Tier); err != nil {
			return fmt.Errorf("cache.tier: %w", err)
		}
	}
	for i, rule := range c.Rules {
		if rule.PathPrefix == "" {
			return fmt.Errorf("rules[%d]: path_prefix is required", i)
		}
		if rule.Tier != "" {
			if _, err := cache.ParseTierKind(rule.Tier); err != nil {
				return fmt.Errorf("rules[%d].tier: %w", i, err)
			}
		}
	}
	return nil
}

// CacheTTL returns the client's cache lifetime; cache.Permanent for a
// negative TTL, cache.Medium when unset.
func (c ClientConfig) CacheTTL() time.Duration {
	return ttl(c.Cache.TTL)
}

// RuleTTL is CacheTTL for a rule; 0 keeps the client's TTL.
func (r RuleConfig) RuleTTL() time.Duration {
	if r.TTL == 0 {
		return 0
	}
	return ttl(r.TTL)
}

func ttl(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return cache.Permanent
	case d == 0:
		return cache.Medium
	}
	return d
}
