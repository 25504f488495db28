package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value V
	exp   int64
}

// TTLCache is a small in-memory map with per-entry expiry, sized for
// hot-path lookups such as org-role checks during settlement. Expired
// entries are dropped lazily on read.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
}

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{items: make(map[K]item[V])}
}

// Get returns the cached value, evicting the entry if its TTL passed.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if it.exp > 0 && time.Now().UnixNano() > it.exp {
		delete(c.items, key)
		return zero, false
	}
	return it.value, true
}

// Set stores a value for ttl. A non-positive ttl keeps the entry until
// it is overwritten.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	c.mu.Lock()
	c.items[key] = item[V]{value: value, exp: exp}
	c.mu.Unlock()
}
