package perf

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultMemoTtl is how long a memoized result is reused when no TTL is given.
	DefaultMemoTtl = 5 * time.Minute
	// memoSweepThreshold is the number of memoized results above which expired ones are swept on insert.
	memoSweepThreshold = 100
)

type memoEntry[R any] struct {
	value    R
	storedAt time.Time
}

// Memoize wraps `fn` so that results are reused for `ttl` per argument. Arguments are keyed by the xxhash of their
// JSON encoding, so they must be JSON serializable; arguments that aren't are never memoized. A non-positive `ttl`
// falls back to DefaultMemoTtl.
func Memoize[A any, R any](fn func(A) R, ttl time.Duration) func(A) R {
	if ttl <= 0 {
		ttl = DefaultMemoTtl
	}
	var (
		mux  sync.Mutex
		memo = make(map[uint64]memoEntry[R])
	)
	return func(arg A) R {
		encoded, err := json.Marshal(arg)
		if err != nil {
			slog.Debug("Skipping memoization of a non serializable argument.", "error", err)
			return fn(arg)
		}
		key := xxhash.Sum64(encoded)

		mux.Lock()
		if entry, found := memo[key]; found && time.Since(entry.storedAt) < ttl {
			mux.Unlock()
			return entry.value
		}
		mux.Unlock()

		result := fn(arg)

		mux.Lock()
		defer mux.Unlock()
		now := time.Now()
		memo[key] = memoEntry[R]{value: result, storedAt: now}
		if len(memo) > memoSweepThreshold {
			for memoKey, entry := range memo {
				if now.Sub(entry.storedAt) >= ttl {
					delete(memo, memoKey)
				}
			}
		}
		return result
	}
}
