// Pair couples a key with its value when streaming cache entries through iterators.

package utils

type Pair[K any, V any] struct {
	Key   K
	Value V
}
