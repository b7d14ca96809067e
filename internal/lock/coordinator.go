// Package lock provides non-blocking per-strategy mutual exclusion.
package lock

import (
	"hammer-trader/pkg/cache"
)

// Usage distinguishes the open and close critical sections of a strategy.
type Usage string

const (
	UsageOpen  Usage = "OPEN"
	UsageClose Usage = "CLOSE"
)

// Coordinator grants at most one holder per (strategy, usage) key. It never
// blocks and is not reentrant.
type Coordinator struct {
	held *cache.ShardedMap[struct{}]
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{held: cache.NewShardedMap[struct{}]()}
}

func key(strategyKey string, usage Usage) string {
	return strategyKey + "|" + string(usage)
}

// TryAcquire returns true only if this call took the key.
func (c *Coordinator) TryAcquire(strategyKey string, usage Usage) bool {
	return c.held.SetIfAbsent(key(strategyKey, usage), struct{}{})
}

// Release drops the key and reports whether it was held. A false return
// means the caller released something it never acquired.
func (c *Coordinator) Release(strategyKey string, usage Usage) bool {
	return c.held.Delete(key(strategyKey, usage))
}

// Held reports whether the key is currently taken.
func (c *Coordinator) Held(strategyKey string, usage Usage) bool {
	_, ok := c.held.Get(key(strategyKey, usage))
	return ok
}

// Len returns the number of keys currently held.
func (c *Coordinator) Len() int {
	return c.held.Len()
}
