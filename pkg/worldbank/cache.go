package worldbank

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// cachedClient wraps a Client with an expiring LRU keyed by country and
// indicator. Errors are not cached.
type cachedClient struct {
	next  Client
	cache *expirable.LRU[string, []Observation]
}

// NewCachedClient wraps next with an LRU of at most size entries, each kept
// for ttl. A non-positive size returns next unchanged.
func NewCachedClient(next Client, size int, ttl time.Duration) Client {
	if size <= 0 {
		return next
	}
	return &cachedClient{
		next:  next,
		cache: expirable.NewLRU[string, []Observation](size, nil, ttl),
	}
}

func (c *cachedClient) Indicator(ctx context.Context, country, indicator string) ([]Observation, error) {
	key := strings.ToUpper(strings.TrimSpace(country)) + "|" + strings.ToUpper(strings.TrimSpace(indicator))
	if obs, ok := c.cache.Get(key); ok {
		zap.L().Debug("worldbank: cache hit", zap.String("key", key))
		return cloneObservations(obs), nil
	}
	obs, err := c.next.Indicator(ctx, country, indicator)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneObservations(obs))
	return obs, nil
}

func cloneObservations(in []Observation) []Observation {
	if in == nil {
		return nil
	}
	out := make([]Observation, len(in))
	copy(out, in)
	return out
}
