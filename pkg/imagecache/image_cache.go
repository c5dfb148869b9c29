// Glimpse remembers which remote images have already been prefetched or displayed so that callers can skip redundant
// prefetch work. The set of tracked URIs is bounded; once it's full, the URI tracked the longest is forgotten first.
// Warming the image itself is delegated to a Prefetcher; this module only does the bookkeeping around it.

package imagecache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/nobletooth/glimpse/pkg/cache"
	"github.com/nobletooth/glimpse/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of URIs tracked when no capacity is configured.
const DefaultCapacity = 50

var (
	// ErrPrefetchFailed matches every error returned by PreloadImage and PreloadImages.
	ErrPrefetchFailed = errors.New("image prefetch failed")

	errNoPrefetcher = errors.New("no prefetcher configured")

	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_cache_lookups_total",
		Help: "Total number of image cache lookups done by preloads.",
	}, []string{"status" /* hit | miss */})
	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_evictions_total",
		Help: "Total number of URIs evicted from the image cache for capacity.",
	})
	prefetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_prefetch_failures_total",
		Help: "Total number of failed image prefetches.",
	})
)

// Prefetcher warms an image ahead of display, e.g. by downloading and decoding it into a render cache.
// Timeouts and cancellation are up to the implementation; `ctx` is handed over untouched.
type Prefetcher interface {
	Prefetch(ctx context.Context, uri string) error
}

// PrefetchFunc adapts a plain function to the Prefetcher interface.
type PrefetchFunc func(ctx context.Context, uri string) error

func (f PrefetchFunc) Prefetch(ctx context.Context, uri string) error { return f(ctx, uri) }

// PrefetchError is returned when the prefetcher fails for URI. It matches both ErrPrefetchFailed and the
// prefetcher's own error with errors.Is / errors.As.
type PrefetchError struct {
	URI string
	Err error
}

func (e *PrefetchError) Error() string {
	return fmt.Sprintf("failed to prefetch %q: %v", e.URI, e.Err)
}

func (e *PrefetchError) Unwrap() []error {
	return []error{ErrPrefetchFailed, e.Err}
}

// ImageCache tracks up to a fixed number of image URIs in FIFO order, mapping each of them to the time it was first
// recorded. It is safe for concurrent use; build one per process and share it with every caller.
//
// ImageCache offers no cancellation of in-flight prefetches: once the prefetcher has been called, its outcome is
// recorded no matter what happens to the caller.
type ImageCache struct {
	entries    *cache.FIFO[string /*uri*/, time.Time /*insertedAt*/]
	prefetcher Prefetcher
	inflight   singleflight.Group // Collapses concurrent preloads of the same URI into one prefetch.
	now        func() time.Time
}

// NewImageCache builds an ImageCache holding at most `capacity` URIs, warming images through `prefetcher`.
func NewImageCache(capacity int, prefetcher Prefetcher) *ImageCache {
	if prefetcher == nil {
		utils.RaiseInvariant("imagecache", "nil_prefetcher", "Image cache has been built without a prefetcher.")
		prefetcher = PrefetchFunc(func(context.Context, string) error { return errNoPrefetcher })
	}
	onEvict := func(uri string, insertedAt time.Time) {
		evictions.Inc()
		slog.Debug("Evicted image from cache.", "uri", uri, "insertedAt", insertedAt)
	}
	return &ImageCache{
		entries:    cache.NewFIFO(capacity, onEvict),
		prefetcher: prefetcher,
		now:        time.Now,
	}
}

// AddToCache records `uri` as seen. Recording a URI that's already tracked changes nothing; in particular it
// doesn't postpone its eviction. If the cache goes over capacity, the oldest URI is evicted.
func (c *ImageCache) AddToCache(uri string) {
	c.entries.Add(uri, c.now())
}

// PreloadImage makes sure `uri` is warmed. Tracked URIs return right away without calling the prefetcher; otherwise
// the URI is prefetched and recorded on success. Failures leave the cache untouched and are returned as a
// *PrefetchError.
//
// Concurrent preloads of one URI share a single prefetch, which runs with the values of the first caller's `ctx` but
// not its cancellation. A caller whose `ctx` is done stops waiting and gets its context error; the shared prefetch
// keeps going and its outcome is still recorded.
func (c *ImageCache) PreloadImage(ctx context.Context, uri string) error {
	if c.entries.Contains(uri) {
		lookups.WithLabelValues("hit").Inc()
		return nil
	}
	lookups.WithLabelValues("miss").Inc()
	if err := ctx.Err(); err != nil {
		return &PrefetchError{URI: uri, Err: err}
	}

	flightCtx := context.WithoutCancel(ctx)
	flight := c.inflight.DoChan(uri, func() (any, error) {
		// Another preload may have recorded the URI between the check above and acquiring the flight.
		if c.entries.Contains(uri) {
			return nil, nil
		}
		if err := c.prefetcher.Prefetch(flightCtx, uri); err != nil {
			prefetchFailures.Inc()
			slog.Debug("Failed to prefetch image.", "uri", uri, "error", err)
			return nil, err
		}
		c.AddToCache(uri)
		return nil, nil
	})

	select {
	case result := <-flight:
		if result.Err != nil {
			return &PrefetchError{URI: uri, Err: result.Err}
		}
		return nil
	case <-ctx.Done():
		return &PrefetchError{URI: uri, Err: ctx.Err()}
	}
}

// PreloadImages preloads every URI concurrently and waits until all of them settle. It returns the first failure,
// if any; URIs whose prefetch succeeded stay recorded even when a sibling failed.
// Every URI gets its own goroutine, with no limit on how many prefetches run at once.
func (c *ImageCache) PreloadImages(ctx context.Context, uris []string) error {
	var group errgroup.Group
	for _, uri := range uris {
		group.Go(func() error { return c.PreloadImage(ctx, uri) })
	}
	return group.Wait()
}

// ClearCache forgets every tracked URI. The capacity is unchanged.
func (c *ImageCache) ClearCache() {
	c.entries.Purge()
}

// Size returns the number of tracked URIs.
func (c *ImageCache) Size() int {
	return c.entries.Len()
}

func (c *ImageCache) Capacity() int {
	return c.entries.Capacity()
}

// Contains reports whether `uri` is tracked.
func (c *ImageCache) Contains(uri string) bool {
	return c.entries.Contains(uri)
}

// URIs returns the tracked URIs, the next one to be evicted first.
func (c *ImageCache) URIs() []string {
	return c.entries.Keys()
}

// Entries returns a snapshot of the tracked URIs along with the time each of them was recorded, oldest first.
func (c *ImageCache) Entries() iter.Seq[utils.Pair[string /*uri*/, time.Time /*insertedAt*/]] {
	return c.entries.Entries()
}
