package prefetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nobletooth/glimpse/pkg/cache"
	"github.com/nobletooth/glimpse/pkg/imagecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodePNG returns a `width`x`height` PNG image.
func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func testOptions() Options {
	return Options{
		Timeout:       time.Second,
		UserAgent:     "glimpse-test",
		MaxBytes:      64 * 1024,
		StoreCapacity: 10,
		StoreTtl:      time.Minute,
	}
}

// newImageServer serves a few canned responses to exercise every failure cause.
func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	validPNG := encodePNG(t, 3, 2)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "glimpse-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(validPNG)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
	})
	mux.HandleFunc("/truncated.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(validPNG[:12])
	})
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(append(validPNG, make([]byte, 64*1024)...))
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPPrefetcher_Prefetch(t *testing.T) {
	server := newImageServer(t)
	prefetcher := NewHTTPPrefetcher(context.Background(), testOptions())

	require.NoError(t, prefetcher.Prefetch(context.Background(), server.URL+"/ok.png"))
	rendered, found := prefetcher.Rendered(server.URL + "/ok.png")
	require.True(t, found, "Warmed image should be in the render store")
	assert.Equal(t, "image/png", rendered.MIME)
	assert.Equal(t, 3, rendered.Width)
	assert.Equal(t, 2, rendered.Height)
	assert.NotEmpty(t, rendered.Bytes)
	assert.False(t, rendered.FetchedAt.IsZero())

	width, height := rendered.DisplaySize(1.5)
	assert.Equal(t, 1.5, width)
	assert.Equal(t, 1.0, height)
}

func TestHTTPPrefetcher_Failures(t *testing.T) {
	server := newImageServer(t)
	opts := testOptions()
	opts.Timeout = 100 * time.Millisecond
	prefetcher := NewHTTPPrefetcher(context.Background(), opts)

	for _, testCase := range []struct {
		name          string
		uri           string
		expectedCause FetchErrorCause
	}{
		{name: "not_found", uri: server.URL + "/missing.png", expectedCause: CauseStatus},
		{name: "html_page", uri: server.URL + "/page.html", expectedCause: CauseNotImage},
		{name: "truncated_image", uri: server.URL + "/truncated.png", expectedCause: CauseDecode},
		{name: "too_large", uri: server.URL + "/huge.png", expectedCause: CauseTooLarge},
		{name: "timeout", uri: server.URL + "/slow.png", expectedCause: CauseNetwork},
		{name: "unsupported_scheme", uri: "ftp://example.com/a.png", expectedCause: CauseInvalidURI},
		{name: "malformed_uri", uri: "http://[::1", expectedCause: CauseInvalidURI},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			err := prefetcher.Prefetch(context.Background(), testCase.uri)
			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, testCase.expectedCause, fetchErr.Cause)
			assert.Equal(t, testCase.uri, fetchErr.URI)
			_, found := prefetcher.Rendered(testCase.uri)
			assert.False(t, found, "Failed prefetches must not reach the render store")
		})
	}
}

func TestHTTPPrefetcher_StatusCodeInError(t *testing.T) {
	server := newImageServer(t)
	prefetcher := NewHTTPPrefetcher(context.Background(), testOptions())

	err := prefetcher.Prefetch(context.Background(), server.URL+"/missing.png")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPPrefetcher_CanceledContext(t *testing.T) {
	server := newImageServer(t)
	prefetcher := NewHTTPPrefetcher(context.Background(), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := prefetcher.Prefetch(ctx, server.URL+"/ok.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPPrefetcher_DisabledRenderStore(t *testing.T) {
	server := newImageServer(t)
	opts := testOptions()
	opts.StoreCapacity = 0
	prefetcher := NewHTTPPrefetcher(context.Background(), opts)
	_, isNoOp := prefetcher.store.(*cache.NoOp[string, *Rendered])
	assert.True(t, isNoOp, "Expected a no-op render store")

	require.NoError(t, prefetcher.Prefetch(context.Background(), server.URL+"/ok.png"))
	_, found := prefetcher.Rendered(server.URL + "/ok.png")
	assert.False(t, found)
}

func TestHTTPPrefetcher_WithImageCache(t *testing.T) {
	server := newImageServer(t)
	imageCache := imagecache.NewImageCache(2, NewHTTPPrefetcher(context.Background(), testOptions()))

	err := imageCache.PreloadImages(context.Background(), []string{server.URL + "/ok.png", server.URL + "/page.html"})
	require.ErrorIs(t, err, imagecache.ErrPrefetchFailed)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, CauseNotImage, fetchErr.Cause)

	assert.Equal(t, []string{server.URL + "/ok.png"}, imageCache.URIs())
}

func TestOptionsFromFlags(t *testing.T) {
	opts := OptionsFromFlags()
	assert.Equal(t, 15*time.Second, opts.Timeout)
	assert.Equal(t, int64(5*1024*1024), opts.MaxBytes)
	assert.Equal(t, 200, opts.StoreCapacity)
	assert.Equal(t, 10*time.Minute, opts.StoreTtl)
}
