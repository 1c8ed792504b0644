package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds every request, connection to last body byte.
const DefaultTimeout = 30 * time.Second

// Client talks JSON to one REST base URL and caches GET responses in the
// tiers of a shared cache.Scope. Writes always go to the network.
type Client struct {
	name    string
	baseURL string
	policy  Policy
	rules   []Rule
	headers http.Header
	http    *http.Client
	scope   *cache.Scope

	// collapses concurrent misses on one key into one request
	inflight singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy replaces the default cache policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRules adds path rules, checked in order.
func WithRules(rules ...Rule) Option {
	return func(c *Client) { c.rules = append(c.rules, rules...) }
}

// WithHeader sends a header with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithTimeout changes the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient swaps the transport. Its Timeout is kept as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client named name for baseURL.
func New(name, baseURL string, scope *cache.Scope, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: baseURL,
		policy:  DefaultPolicy,
		headers: make(http.Header),
		http:    &http.Client{Timeout: DefaultTimeout},
		scope:   scope,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Policy() Policy {
	return c.policy
}

// CacheKey returns the key Get uses for path and params.
func (c *Client) CacheKey(path string, params Params) (string, error) {
	return CacheKey(http.MethodGet, resolveURL(c.baseURL, path), params)
}

// Get fetches path with params as the query string. Unless the effective
// policy disables caching, a valid cached response is returned without any
// network call, and a fresh successful response is cached for the policy's
// TTL. Overrides are merged in order onto the client policy; without any,
// the first matching Rule applies.
func (c *Client) Get(ctx context.Context, path string, params Params, overrides ...PolicyOverride) (json.RawMessage, error) {
	policy := c.effectivePolicy(path, overrides)
	target := resolveURL(c.baseURL, path)

	reqURL, err := withQuery(target, params)
	if err != nil {
		return nil, unknownError(err)
	}

	if !policy.Enabled {
		return c.do(ctx, http.MethodGet, reqURL, nil)
	}

	key, err := c.CacheKey(path, params)
	if err != nil {
		return nil, unknownError(err)
	}

	tier := c.scope.Tier(policy.Tier)
	if body, ok := cache.Lookup[json.RawMessage](tier, key); ok {
		logrus.WithFields(logrus.Fields{"client": c.name, "tier": tier.Name()}).Debugf("Cache hit for %s", key)
		return clone(body), nil
	}

	// the shared request outlives any single caller; each caller still
	// stops waiting when its own ctx is done
	flight := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(string(policy.Tier)+"|"+key, func() (any, error) {
		body, err := c.do(flight, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		tier.Set(key, body, policy.TTL)
		logrus.WithFields(logrus.Fields{"client": c.name, "tier": tier.Name()}).Debugf("Cached %s for %s", key, policy.TTL)
		return body, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, networkError(reqURL, ctx.Err())
	}
	if res.Err != nil {
		return nil, normalize(res.Err)
	}
	if res.Shared {
		logrus.Debugf("Shared in-flight response for %s", key)
	}
	return clone(res.Val.(json.RawMessage)), nil
}

// Post sends body as JSON. Never cached.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put sends body as JSON. Never cached.
func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch sends body as JSON. Never cached.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE. Never cached.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.send(ctx, http.MethodDelete, path, nil)
}

// Do issues method against path; GET goes through the cache, everything
// else through send.
func (c *Client) Do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if method == http.MethodGet {
		return c.Get(ctx, path, nil)
	}
	return c.send(ctx, method, path, body)
}

// ClearCache empties the named tiers, or both. Tiers are shared by every
// client of the scope.
func (c *Client) ClearCache(kinds ...cache.TierKind) {
	c.scope.Clear(kinds...)
}

// ClearExpiredCache sweeps the named tiers, or both.
func (c *Client) ClearExpiredCache(kinds ...cache.TierKind) {
	c.scope.ClearExpired(kinds...)
}

func (c *Client) effectivePolicy(path string, overrides []PolicyOverride) Policy {
	policy := c.policy

	explicit := false
	for _, o := range overrides {
		if !o.IsZero() {
			explicit = true
		}
		policy = policy.Merge(o)
	}
	if explicit {
		return policy
	}

	for _, rule := range c.rules {
		if rule.Match(path) {
			return policy.Merge(rule.Override)
		}
	}
	return policy
}

func (c *Client) send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, method, resolveURL(c.baseURL, path), body)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, unknownError(fmt.Errorf("encoding request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, unknownError(err)
	}
	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logrus.Debugf("Request %s %s failed: %v", method, reqURL, err)
		return nil, networkError(reqURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(reqURL, err)
	}

	logrus.WithFields(logrus.Fields{"client": c.name}).Debugf("%s %s -> %d", method, reqURL, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp.StatusCode, data)
	}
	return payload(data), nil
}

// payload returns body as JSON: empty bodies become null and non-JSON text
// becomes a JSON string.
func payload(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return clone(trimmed)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func clone(b json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), b...)
}
