// Glimpse warms images over HTTP: the image is downloaded, sniffed, its header decoded, and the bytes are kept in a
// render store from which a rendering layer can pick them up without going to the network again.

package prefetch

import (
	"bytes"
	"context"
	"flag"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/h2non/filetype"
	"github.com/nobletooth/glimpse/pkg/cache"
	"github.com/nobletooth/glimpse/pkg/imagecache"
	"github.com/nobletooth/glimpse/pkg/perf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	timeout   = flag.Duration("prefetch_timeout", 15*time.Second, "Timeout of a single image download.")
	userAgent = flag.String("prefetch_user_agent", "glimpse-prefetcher/1.0",
		"User-Agent header sent when downloading images.")
	maxBytes = flag.Int64("prefetch_max_bytes", 5*1024*1024,
		"Images larger than this many bytes are rejected.")
	renderStoreCapacity = flag.Int("render_store_capacity", 200,
		"The maximum number of warmed images kept in memory; 0 or negative disables the render store.")
	renderStoreTtl = flag.Duration("render_store_ttl", 10*time.Minute,
		"How long a warmed image is kept in the render store.")
	renderStoreReapInterval = flag.Duration("render_store_reap_interval", time.Minute,
		"How often expired images are removed from the render store.")

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_requests_total",
		Help: "Total number of image downloads by outcome.",
	}, []string{"status" /* ok | cause of failure */})
	downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prefetch_bytes_total",
		Help: "Total number of image bytes warmed.",
	})
	durations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prefetch_duration_seconds",
		Help:    "Duration of image downloads.",
		Buckets: prometheus.DefBuckets,
	})
)

// Rendered is a warmed image ready for display.
type Rendered struct {
	URI       string
	MIME      string
	Width     int
	Height    int
	Bytes     []byte
	FetchedAt time.Time
}

// DisplaySize returns the size the image should be laid out at on a screen `maxWidth` wide.
func (r *Rendered) DisplaySize(maxWidth float64) (width, height float64) {
	return perf.OptimalImageSize(float64(r.Width), float64(r.Height), maxWidth)
}

// Options configures an HTTPPrefetcher.
type Options struct {
	Timeout           time.Duration
	UserAgent         string
	MaxBytes          int64
	StoreCapacity     int
	StoreTtl          time.Duration
	StoreReapInterval time.Duration
	Transport         http.RoundTripper // Defaults to http.DefaultTransport.
}

// OptionsFromFlags returns the options set through command line flags.
func OptionsFromFlags() Options {
	return Options{
		Timeout:           *timeout,
		UserAgent:         *userAgent,
		MaxBytes:          *maxBytes,
		StoreCapacity:     *renderStoreCapacity,
		StoreTtl:          *renderStoreTtl,
		StoreReapInterval: *renderStoreReapInterval,
	}
}

// HTTPPrefetcher downloads images over HTTP(S) and keeps them in a render store.
type HTTPPrefetcher struct { // Implements imagecache.Prefetcher.
	client    *http.Client
	userAgent string
	maxBytes  int64
	store     cache.Layer[string /*uri*/, *Rendered]
}

var _ imagecache.Prefetcher = (*HTTPPrefetcher)(nil)

// NewHTTPPrefetcher builds an HTTPPrefetcher. The render store's reaper stops once `ctx` is done.
func NewHTTPPrefetcher(ctx context.Context, opts Options) *HTTPPrefetcher {
	var store cache.Layer[string, *Rendered] = cache.NewNoOp[string, *Rendered]()
	if opts.StoreCapacity > 0 {
		store = cache.NewClock[string, *Rendered](ctx, opts.StoreCapacity, opts.StoreTtl, opts.StoreReapInterval)
	}
	return &HTTPPrefetcher{
		client:    &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		store:     store,
	}
}

// Prefetch downloads `uri` and stores it in the render store. It fails with a *FetchError.
func (p *HTTPPrefetcher) Prefetch(ctx context.Context, uri string) error {
	start := time.Now()
	defer func() { durations.Observe(time.Since(start).Seconds()) }()

	rendered, err := p.fetch(ctx, uri)
	if err != nil {
		requests.WithLabelValues(string(err.Cause)).Inc()
		return err
	}
	requests.WithLabelValues("ok").Inc()
	downloadedBytes.Add(float64(len(rendered.Bytes)))
	p.store.Add(uri, rendered)
	return nil
}

func (p *HTTPPrefetcher) fetch(ctx context.Context, uri string) (*Rendered, *FetchError) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseInvalidURI, Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &FetchError{URI: uri, Cause: CauseInvalidURI}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseInvalidURI, Err: err}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URI: uri, Cause: CauseStatus, StatusCode: resp.StatusCode}
	}

	// Read one byte past the limit to tell "exactly at the limit" from "above it".
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseNetwork, Err: err}
	}
	if int64(len(body)) > p.maxBytes {
		return nil, &FetchError{URI: uri, Cause: CauseTooLarge}
	}

	kind, err := filetype.Match(body)
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseNotImage, Err: err}
	}
	if !filetype.IsImage(body) {
		return nil, &FetchError{URI: uri, Cause: CauseNotImage}
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URI: uri, Cause: CauseDecode, Err: err}
	}

	return &Rendered{
		URI:       uri,
		MIME:      kind.MIME.Value,
		Width:     config.Width,
		Height:    config.Height,
		Bytes:     body,
		FetchedAt: time.Now(),
	}, nil
}

// Rendered returns the warmed image for `uri`, if it's still in the render store.
func (p *HTTPPrefetcher) Rendered(uri string) (*Rendered, bool) {
	return p.store.Get(uri)
}
