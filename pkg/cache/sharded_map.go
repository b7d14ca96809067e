package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedMap is a string-keyed concurrent map split across shards. Reads
// on different shards never contend, and every single-key operation is
// atomic.
type ShardedMap[V any] struct {
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// NewShardedMap creates an empty map.
func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := 0; i < numShards; i++ {
		m.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return m
}

func (m *ShardedMap[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%numShards]
}

// Set stores value under key.
func (m *ShardedMap[V]) Set(key string, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get returns the value for key.
func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	return e.value, ok
}

// GetWithAge returns the value and how long ago it was written.
func (m *ShardedMap[V]) GetWithAge(key string) (V, time.Duration, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		var zero V
		return zero, 0, false
	}
	return e.value, time.Since(e.updatedAt), true
}

// SetIfAbsent stores value only when key is missing. It reports whether
// this call inserted.
func (m *ShardedMap[V]) SetIfAbsent(key string, value V) bool {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = entry[V]{value: value, updatedAt: time.Now()}
	return true
}

// Update applies fn to the current value of key while holding the shard
// lock. fn returns the new value and whether to keep it; returning false
// leaves the map unchanged. Update returns the value fn produced.
func (m *ShardedMap[V]) Update(key string, fn func(cur V, exists bool) (V, bool)) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next, keep := fn(cur.value, ok)
	if keep {
		s.items[key] = entry[V]{value: next, updatedAt: time.Now()}
	}
	return next, keep
}

// Delete removes key and reports whether it was present.
func (m *ShardedMap[V]) Delete(key string) bool {
	s := m.getShard(key)
	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok
}

// LoadAndDelete removes key and returns its value.
func (m *ShardedMap[V]) LoadAndDelete(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	e, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return e.value, ok
}

// Len returns total items across all shards.
func (m *ShardedMap[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry until fn returns false. The snapshot is
// taken shard by shard, so concurrent writers may or may not be observed.
func (m *ShardedMap[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		snapshot := make([]struct {
			k string
			v V
		}, 0, len(s.items))
		for k, e := range s.items {
			snapshot = append(snapshot, struct {
				k string
				v V
			}{k, e.value})
		}
		s.mu.RUnlock()
		for _, kv := range snapshot {
			if !fn(kv.k, kv.v) {
				return
			}
		}
	}
}

// Cleanup removes entries older than maxAge.
func (m *ShardedMap[V]) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (m *ShardedMap[V]) Stats() CacheStats {
	stats := CacheStats{}
	var oldest time.Time

	for i, s := range m.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.updatedAt.Before(oldest) {
				oldest = e.updatedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
