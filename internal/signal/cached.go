package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

type cachedProvider struct {
	next  Provider
	cache cache.Cache
	ttl   time.Duration
}

// Cached wraps p so successful payloads are stored in c for ttl. Cache failures are
// logged and treated as misses.
func Cached(p Provider, c cache.Cache, ttl time.Duration) Provider {
	if c == nil || ttl <= 0 {
		return p
	}
	return &cachedProvider{next: p, cache: c, ttl: ttl}
}

func (c *cachedProvider) Name() string { return c.next.Name() }

func (c *cachedProvider) Fetch(ctx context.Context, q Query) (any, error) {
	key := cache.SignalKey(c.next.Name(), string(q.Kind), q.Region.Name, string(q.Sector))

	payload, err := models.NewPayload(q.Kind)
	if err != nil {
		return nil, err
	}
	found, err := cache.GetJSON(ctx, c.cache, key, payload)
	if err != nil {
		slog.Warn("signal cache read failed", "key", key, "error", err)
	}
	if found {
		return payload, nil
	}

	fetched, err := c.next.Fetch(ctx, q)
	if err != nil || isNil(fetched) {
		return fetched, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, fetched, c.ttl); err != nil {
		slog.Warn("signal cache write failed", "key", key, "error", err)
	}
	return fetched, nil
}
