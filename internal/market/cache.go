package market

import (
	"time"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/domain"
	"hammer-trader/pkg/cache"
)

// MarkPriceCache keeps the latest mark price per symbol.
type MarkPriceCache struct {
	m *cache.ShardedMap[domain.MarkPrice]
}

func NewMarkPriceCache() *MarkPriceCache {
	return &MarkPriceCache{m: cache.NewShardedMap[domain.MarkPrice]()}
}

// Set stores mp unless a newer price is already cached.
func (c *MarkPriceCache) Set(mp domain.MarkPrice) {
	c.m.Update(mp.Symbol, func(cur domain.MarkPrice, exists bool) (domain.MarkPrice, bool) {
		if exists && cur.Time.After(mp.Time) {
			return cur, false
		}
		return mp, true
	})
}

// Get returns the cached mark price of symbol.
func (c *MarkPriceCache) Get(symbol string) (domain.MarkPrice, bool) {
	return c.m.Get(symbol)
}

// Fresh returns the cached mark price if it was written within maxAge.
func (c *MarkPriceCache) Fresh(symbol string, maxAge time.Duration) (domain.MarkPrice, bool) {
	mp, age, ok := c.m.GetWithAge(symbol)
	if !ok || age > maxAge {
		return domain.MarkPrice{}, false
	}
	return mp, true
}

// Price returns the cached price only.
func (c *MarkPriceCache) Price(symbol string) (decimal.Decimal, bool) {
	mp, ok := c.m.Get(symbol)
	return mp.Price, ok
}

// OldestAge is the time since the least recently updated symbol was
// written. A growing value means a stream has stalled.
func (c *MarkPriceCache) OldestAge() time.Duration {
	return c.m.Stats().OldestAge
}

// Snapshot returns all cached prices.
func (c *MarkPriceCache) Snapshot() map[string]domain.MarkPrice {
	out := make(map[string]domain.MarkPrice, c.m.Len())
	c.m.Range(func(k string, v domain.MarkPrice) bool {
		out[k] = v
		return true
	})
	return out
}

// CandleCache keeps the latest candle per (owner, symbol). The owner is a
// strategy key.
type CandleCache struct {
	m *cache.ShardedMap[domain.CandleStick]
}

func NewCandleCache() *CandleCache {
	return &CandleCache{m: cache.NewShardedMap[domain.CandleStick]()}
}

func candleKey(owner, symbol string) string { return owner + "|" + symbol }

// Get returns the latest candle stored for owner and symbol.
func (c *CandleCache) Get(owner, symbol string) (domain.CandleStick, bool) {
	return c.m.Get(candleKey(owner, symbol))
}

// Advance stores candle unless a later bar is already cached, and returns
// the candle held before the call. Updates of the cached bar replace it.
// stored is false when candle belongs to an older bar.
func (c *CandleCache) Advance(owner string, candle domain.CandleStick) (prev domain.CandleStick, seen, stored bool) {
	_, stored = c.m.Update(candleKey(owner, candle.Symbol), func(cur domain.CandleStick, exists bool) (domain.CandleStick, bool) {
		prev, seen = cur, exists
		if exists && candle.Key < cur.Key {
			return cur, false
		}
		return candle, true
	})
	return prev, seen, stored
}

// Seed stores candle only if nothing is cached yet.
func (c *CandleCache) Seed(owner string, candle domain.CandleStick) bool {
	return c.m.SetIfAbsent(candleKey(owner, candle.Symbol), candle)
}

// Forget drops every entry for owner.
func (c *CandleCache) Forget(owner string) int {
	var keys []string
	prefix := owner + "|"
	c.m.Range(func(k string, _ domain.CandleStick) bool {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
		return true
	})
	for _, k := range keys {
		c.m.Delete(k)
	}
	return len(keys)
}

// Prune drops candles not replaced within maxAge, such as symbols removed
// from a running strategy.
func (c *CandleCache) Prune(maxAge time.Duration) int { return c.m.Cleanup(maxAge) }

// Len returns the number of cached candles.
func (c *CandleCache) Len() int { return c.m.Len() }
