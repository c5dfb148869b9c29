// This module implements a bounded FIFO cache.
// Eviction Policy (First-In-First-Out):
// Entries are kept in a linked list in the order they were first inserted; the front of the list is the oldest
// entry. When an insertion pushes the cache above its capacity, the front entry is evicted. Reads never move an entry
// and re-inserting a present key keeps its original position and value, so the eviction order is purely the order of
// first insertion (this is not an LRU).

package cache

import (
	"iter"
	"sync"

	"github.com/nobletooth/glimpse/pkg/utils"
)

type fifoEntry[K comparable, V any] struct {
	key   K
	value V
}

// FIFO is a thread-safe, fixed-capacity, insertion-ordered cache.
// Membership test, insert and remove-oldest are all O(1).
type FIFO[K comparable, V any] struct {
	capacity int                                    // Maximum number of entries the cache can hold.
	order    *linkedList[fifoEntry[K, V]]           // Front is the oldest entry, back the newest.
	index    map[K]*linkedListNode[fifoEntry[K, V]] // Provides lookup for an entry by its key.
	// evictionCallback is an optional callback function that is executed when an entry is evicted for capacity.
	// It runs while the cache lock is held, so it must not call any of the cache methods.
	evictionCallback func(K, V)
	mux              sync.RWMutex
}

var _ Layer[string, int] = (*FIFO[string, int])(nil)

// NewFIFO is the constructor for FIFO. Capacity must be positive; a non-positive capacity is clamped to 1.
// NOTE: eviction callback function must not call any of the cache methods or else we'll be having a deadlock.
func NewFIFO[K comparable, V any](capacity int, evictionCallback func(K, V)) *FIFO[K, V] {
	if capacity <= 0 {
		utils.RaiseInvariant("fifo", "non_positive_cache_capacity",
			"Invalid capacity has been given to FIFO cache.", "capacity", capacity)
		capacity = 1
	}
	return &FIFO[K, V]{
		capacity:         capacity,
		order:            new(linkedList[fifoEntry[K, V]]),
		index:            make(map[K]*linkedListNode[fifoEntry[K, V]], capacity+1),
		evictionCallback: evictionCallback,
	}
}

// Get returns the value stored for `key`. Unlike an LRU, a hit doesn't change the eviction order.
func (c *FIFO[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if node, found := c.index[key]; found {
		return node.Value.value, true
	}
	return *new(V), false
}

// Contains reports whether `key` is currently tracked.
func (c *FIFO[K, V]) Contains(key K) bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	_, found := c.index[key]
	return found
}

// Add inserts `key` at the back of the eviction order unless it's already present, in which case the existing
// entry (and its position) is left untouched. If the insertion pushes the cache above its capacity, the oldest
// entry is evicted before returning. It returns true if an eviction occurred.
func (c *FIFO[K, V]) Add(key K, value V) /*evictionOccurred*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	if _, found := c.index[key]; found {
		return false
	}
	c.index[key] = c.order.PushBack(fifoEntry[K, V]{key: key, value: value})
	if c.order.Len() <= c.capacity {
		return false
	}

	oldest := c.order.Front()
	c.order.Remove(oldest)
	delete(c.index, oldest.Value.key)
	if len(c.index) != c.order.Len() {
		utils.RaiseInvariant("fifo", "index_order_mismatch",
			"FIFO index and order list went out of sync.", "index", len(c.index), "order", c.order.Len())
	}
	if c.evictionCallback != nil {
		c.evictionCallback(oldest.Value.key, oldest.Value.value)
	}
	return true
}

// Remove drops `key` without invoking the eviction callback. It returns false if the key wasn't present.
func (c *FIFO[K, V]) Remove(key K) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	node, found := c.index[key]
	if !found {
		return false
	}
	c.order.Remove(node)
	delete(c.index, key)
	return true
}

// Keys returns the tracked keys, oldest first.
func (c *FIFO[K, V]) Keys() []K {
	c.mux.RLock()
	defer c.mux.RUnlock()

	keys := make([]K, 0, c.order.Len())
	for entry := range c.order.All() {
		keys = append(keys, entry.key)
	}
	return keys
}

// Entries returns a snapshot of the key-value pairs, oldest first.
func (c *FIFO[K, V]) Entries() iter.Seq[utils.Pair[K, V]] {
	c.mux.RLock()
	snapshot := make([]utils.Pair[K, V], 0, c.order.Len())
	for entry := range c.order.All() {
		snapshot = append(snapshot, utils.Pair[K, V]{Key: entry.key, Value: entry.value})
	}
	c.mux.RUnlock()

	return func(yield func(utils.Pair[K, V]) bool) {
		for _, pair := range snapshot {
			if !yield(pair) {
				return
			}
		}
	}
}

func (c *FIFO[K, V]) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries; it never changes after construction.
func (c *FIFO[K, V]) Capacity() int {
	return c.capacity
}

// Purge removes every entry while keeping the capacity. The eviction callback is not invoked since nothing is being
// evicted for capacity.
func (c *FIFO[K, V]) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.order.Clear()
	clear(c.index)
}
