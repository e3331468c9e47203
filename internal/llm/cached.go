package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/cache"
)

type fingerprintKey struct{}

// WithFingerprint scopes cached responses to a data set. Requests with the
// same conversation over different files never share a cache entry.
func WithFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, fingerprintKey{}, fp)
}

func fingerprintFrom(ctx context.Context) string {
	fp, _ := ctx.Value(fingerprintKey{}).(string)
	return fp
}

// CacheObserver is notified of hits and misses.
type CacheObserver func(hit bool)

// Cached serves repeated requests from a cache.Store. Any cache failure
// falls through to next.
type Cached struct {
	next    Client
	store   cache.Store
	ttl     time.Duration
	logger  *zap.Logger
	observe CacheObserver
}

// NewCached wraps next with store. observe may be nil.
func NewCached(next Client, store cache.Store, ttl time.Duration, logger *zap.Logger, observe CacheObserver) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, store: store, ttl: ttl, logger: logger, observe: observe}
}

// RequestKey is the cache key for req within a data fingerprint.
func RequestKey(fingerprint string, req Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return cache.Key("llm/v1", fingerprint, string(b)), nil
}

// Send implements Client.
func (c *Cached) Send(ctx context.Context, req Request) (*Response, error) {
	key, err := RequestKey(fingerprintFrom(ctx), req)
	if err != nil {
		c.logger.Debug("request not cacheable", zap.Error(err))
		return c.next.Send(ctx, req)
	}

	if raw, err := c.store.Get(ctx, key); err == nil {
		var resp Response
		if jerr := json.Unmarshal(raw, &resp); jerr == nil && resp.Validate() == nil {
			c.notify(true)
			return &resp, nil
		}
		_ = c.store.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("cache read failed", zap.Error(err))
	}
	c.notify(false)

	resp, err := c.next.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.Marshal(resp); jerr == nil {
		if serr := c.store.Set(ctx, key, raw, c.ttl); serr != nil {
			c.logger.Warn("cache write failed", zap.Error(serr))
		}
	}
	return resp, nil
}

func (c *Cached) notify(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}
