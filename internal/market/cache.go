package market

import (
	"context"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	At    time.Time
	Value V
}

// TTLCache 是带过期时间的简单键值缓存。
type TTLCache[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]ttlEntry[V]
	clock func() time.Time
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:   ttl,
		items: make(map[string]ttlEntry[V]),
		clock: time.Now,
	}
}

// SetClock 替换时间源，测试使用。
func (c *TTLCache[V]) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	now := c.clock()
	c.mu.RUnlock()
	if !ok || now.Sub(entry.At) >= c.ttl {
		return zero, false
	}
	return entry.Value, true
}

func (c *TTLCache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = ttlEntry[V]{At: c.clock(), Value: value}
	c.mu.Unlock()
}

// Purge 清理所有过期条目，返回清理数量。
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for k, e := range c.items {
		if now.Sub(e.At) >= c.ttl {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CachedSource 在 TTL 内复用上游结果以减少调用量；它位于熔断器之内，命中缓存也算一次成功调用。
type CachedSource struct {
	next  Source
	cache *TTLCache[Snapshot]
}

func NewCachedSource(next Source, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: NewTTLCache[Snapshot](ttl)}
}

func (s *CachedSource) Cache() *TTLCache[Snapshot] { return s.cache }

func (s *CachedSource) FetchSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	key := NormalizeSymbol(symbol)
	if snap, ok := s.cache.Get(key); ok {
		return snap.Clone(), nil
	}
	snap, err := s.next.FetchSnapshot(ctx, symbol)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.Usable() {
		s.cache.Set(key, snap.Clone())
	}
	return snap, nil
}
