package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSTTL      = 15 * time.Minute
	defaultJWKSTimeout  = 5 * time.Second
	minUnknownKIDRetry  = time.Minute
	jwksSingleflightKey = "jwks"
)

var (
	// ErrJWKSKeyNotFound means the token's kid is not in the published key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures while loading the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// JWKSCache holds Google's signing keys. Concurrent misses share one fetch, and a stale
// set keeps serving known keys when a refresh fails.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	ttl     time.Duration
	timeout time.Duration

	fetches singleflight.Group

	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	expiry    time.Time
	lastFetch time.Time
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient replaces the HTTP client used for fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger for refresh events.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock injects the time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithJWKSTTL sets how long a key set lives when the response has no max-age.
func WithJWKSTTL(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// NewJWKSCache returns a lazily populated cache for the key set at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		ttl:     defaultJWKSTTL,
		timeout: defaultJWKSTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid. An unknown kid triggers at most one refresh per
// minute so forged kids cannot hammer the key endpoint.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	key, known, fresh, recent := c.lookup(kid, now)
	if known && fresh {
		return key.Key, nil
	}
	if !known && fresh && recent {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}

	if err := c.refresh(ctx); err != nil {
		if known {
			c.logger.Warn("jwks refresh failed, serving stale key", zap.String("kid", kid), zap.Error(err))
			return key.Key, nil
		}
		return nil, err
	}
	if key, known, _, _ = c.lookup(kid, c.now()); known {
		return key.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string, now time.Time) (key jose.JSONWebKey, known, fresh, recent bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, known = c.keys[kid]
	fresh = len(c.keys) > 0 && now.Before(c.expiry)
	recent = !c.lastFetch.IsZero() && now.Sub(c.lastFetch) < minUnknownKIDRetry
	return key, known, fresh, recent
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.fetches.Do(jwksSingleflightKey, func() (any, error) {
		keys, ttl, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		now := c.now()
		c.mu.Lock()
		c.keys = keys
		c.expiry = now.Add(ttl)
		c.lastFetch = now
		c.mu.Unlock()
		c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
		return nil, nil
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, 0, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		jwk := jwk
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge, ok := cacheMaxAge(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}
	return keys, ttl, nil
}

func cacheMaxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
