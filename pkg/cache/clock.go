// This module implements an expirable CLOCK cache, holding warmed image bytes for the rendering layer.
// Eviction Policy (CLOCK / Second-Chance):
// Entries live in a circular buffer swept by a "hand". When the cache is full, the hand clears the reference bit of
// recently read entries and evicts the first entry that is unreferenced or already expired.
//
// Expiration Policy (TTL with Reaper):
// Every entry expires a fixed TTL after its last write. Expired entries are invisible to Get right away and are
// physically removed by a background reaper goroutine that sweeps the buffer on every tick, until its context is done.

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nobletooth/glimpse/pkg/utils"
)

type clockEntry[K comparable, V any] struct {
	key       K
	value     V
	ref       atomic.Bool // Set by Get; an entry with ref set survives one sweep of the hand.
	expiresAt time.Time
}

// Clock is a thread-safe, fixed-capacity cache with CLOCK eviction and a single TTL shared by all entries.
type Clock[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	ring     *linkedList[*clockEntry[K, V]] // Circular buffer; the back wraps around to the front.
	hand     *linkedListNode[*clockEntry[K, V]]
	index    map[K]*linkedListNode[*clockEntry[K, V]]
	now      func() time.Time // Swapped in tests.
	mux      sync.RWMutex
}

var _ Layer[string, int] = (*Clock[string, int])(nil)

// NewClock is the constructor for Clock. A positive `reapInterval` starts the background reaper, which stops once
// `ctx` is done; otherwise expired entries are only reclaimed through eviction.
func NewClock[K comparable, V any](ctx context.Context, capacity int, ttl, reapInterval time.Duration) *Clock[K, V] {
	if capacity <= 0 {
		utils.RaiseInvariant("clock", "non_positive_cache_capacity",
			"Invalid capacity has been given to clock cache.", "capacity", capacity)
		capacity = 1
	}
	if ttl <= 0 {
		utils.RaiseInvariant("clock", "non_positive_ttl", "Invalid TTL has been given to clock cache.", "ttl", ttl)
		ttl = time.Minute
	}
	clockCache := &Clock[K, V]{
		capacity: capacity,
		ttl:      ttl,
		ring:     new(linkedList[*clockEntry[K, V]]),
		index:    make(map[K]*linkedListNode[*clockEntry[K, V]], capacity),
		now:      time.Now,
	}
	if reapInterval > 0 {
		go clockCache.reaper(ctx, reapInterval)
	}
	return clockCache
}

// Get returns the value for `key` if present and not expired, marking the entry as recently used.
func (c *Clock[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	node, found := c.index[key]
	if !found || !c.now().Before(node.Value.expiresAt) {
		return *new(V), false
	}
	node.Value.ref.Store(true)
	return node.Value.value, true
}

// Add inserts or overwrites `key`, resetting its TTL. It returns true if another entry was evicted for room.
func (c *Clock[K, V]) Add(key K, value V) /*evictionOccurred*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	now := c.now()
	if node, found := c.index[key]; found {
		node.Value.value = value
		node.Value.expiresAt = now.Add(c.ttl)
		node.Value.ref.Store(false)
		return false
	}

	if c.ring.Len() < c.capacity {
		node := c.ring.PushBack(&clockEntry[K, V]{key: key, value: value, expiresAt: now.Add(c.ttl)})
		c.index[key] = node
		if c.hand == nil {
			c.hand = node
		}
		return false
	}

	// Sweep for a victim. Every pass clears reference bits, so at most two laps are needed.
	for {
		victim := c.hand
		c.hand = c.next(victim)
		if victim.Value.ref.Load() && now.Before(victim.Value.expiresAt) {
			victim.Value.ref.Store(false)
			continue
		}
		// Reuse the victim's node for the new entry.
		delete(c.index, victim.Value.key)
		victim.Value = &clockEntry[K, V]{key: key, value: value, expiresAt: now.Add(c.ttl)}
		c.index[key] = victim
		return true
	}
}

// next returns the node after `node`, wrapping around to the front.
func (c *Clock[K, V]) next(node *linkedListNode[*clockEntry[K, V]]) *linkedListNode[*clockEntry[K, V]] {
	if next := node.Next(); next != nil {
		return next
	}
	return c.ring.Front()
}

// Keys returns the keys held by the cache, including expired entries the reaper hasn't reclaimed yet.
func (c *Clock[K, V]) Keys() []K {
	c.mux.RLock()
	defer c.mux.RUnlock()

	keys := make([]K, 0, c.ring.Len())
	for entry := range c.ring.All() {
		keys = append(keys, entry.key)
	}
	return keys
}

func (c *Clock[K, V]) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.ring.Len()
}

func (c *Clock[K, V]) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.ring.Clear()
	clear(c.index)
	c.hand = nil
}

// reapExpired removes every expired entry and returns how many were removed.
func (c *Clock[K, V]) reapExpired() int {
	c.mux.Lock()
	defer c.mux.Unlock()

	now := c.now()
	reaped := 0
	for node := c.ring.Front(); node != nil; {
		next := node.Next()
		if !now.Before(node.Value.expiresAt) {
			if c.hand == node {
				c.hand = c.next(node)
			}
			delete(c.index, node.Value.key)
			c.ring.Remove(node)
			reaped++
		}
		node = next
	}
	if c.ring.Len() == 0 {
		c.hand = nil
	}
	return reaped
}

// reaper is a background goroutine that periodically reclaims expired entries.
func (c *Clock[K, V]) reaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapExpired()
		}
	}
}
