// Glimpse callers react to bursts of UI events (scrolls, carousel swipes, text input) by preloading images.
// Debounce and Throttle tame those bursts before they turn into prefetch work.

package perf

import (
	"sync"
	"time"
)

// Debounce returns a `call` function that runs `fn` once `wait` has elapsed since the last call, so a burst of calls
// results in a single trailing run. `stop` cancels a pending run; calling `call` afterwards schedules a new one.
func Debounce(fn func(), wait time.Duration) (call func(), stop func()) {
	var (
		mux   sync.Mutex
		timer *time.Timer
	)
	call = func() {
		mux.Lock()
		defer mux.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(wait, fn)
	}
	stop = func() {
		mux.Lock()
		defer mux.Unlock()
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	return call, stop
}

// Throttle returns a function that runs `fn` immediately unless it already ran during the last `limit`; dropped
// calls are not replayed. The returned function reports whether `fn` ran.
func Throttle(fn func(), limit time.Duration) func() bool {
	var (
		mux     sync.Mutex
		lastRun time.Time
		everRan bool
	)
	return func() bool {
		mux.Lock()
		now := time.Now()
		if everRan && now.Sub(lastRun) < limit {
			mux.Unlock()
			return false
		}
		everRan = true
		lastRun = now
		mux.Unlock()

		fn()
		return true
	}
}
