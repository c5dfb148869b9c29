// Glimpse keeps small bounded in-memory structures: the set of image URIs already prefetched and the warmed image
// bytes handed to the rendering layer. This module provides the interface shared by those cache layers.

package cache

// Layer defines the interface for a bounded key-value cache. Eviction and expiration policies are up to the
// implementation (FIFO, CLOCK with TTL, ...); callers only rely on this API.
type Layer[K comparable, V any] interface {
	// Get returns value from cache for given key and a boolean indicating whether key was found.
	Get(key K) (V, bool)
	// Add inserts a key-value pair into the cache. It returns true if an item was evicted to make room for it.
	Add(key K, value V) bool
	Keys() []K // Returns a slice of all keys currently in the cache.
	Len() int  // Returns the number of entries currently held.
	Purge()    // Removes all items from the cache.
}

// NoOp is a cache layer that doesn't store any items.
// It is used when a cache is disabled through its capacity flag.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[int, int] = (*NoOp[int, int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

// Add does nothing and always returns false, indicating no item was evicted.
func (n *NoOp[K, V]) Add(key K, value V) bool {
	return false
}

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[K, V]) Keys() []K {
	return nil
}

func (n *NoOp[K, V]) Len() int { return 0 }

// Purge does nothing, as there are no items to remove.
func (n *NoOp[K, V]) Purge() {}
