// Spins up the glimpse daemon: an image cache warming remote images over HTTP, served over the Redis protocol.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nobletooth/glimpse/pkg/config"
	"github.com/nobletooth/glimpse/pkg/imagecache"
	"github.com/nobletooth/glimpse/pkg/port"
	"github.com/nobletooth/glimpse/pkg/prefetch"
	"github.com/nobletooth/glimpse/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	printVersion  = flag.Bool("print_version", false, "Print the version and exit.")
	cacheCapacity = flag.Int("image_cache_capacity", imagecache.DefaultCapacity,
		"The maximum number of image URIs remembered as already warmed.")
	metricsAddress = flag.String("metrics_address", "",
		"The ip:port to serve Prometheus metrics on; metrics aren't served if empty.")
)

const metricsShutdownTimeout = 5 * time.Second

// runMetricsServer serves /metrics on `addr` until `ctx` is done.
func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- server.ListenAndServe() }()
	slog.Info("Serving metrics.", "address", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	case err := <-serverErrSignal:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server stopped unexpectedly: %w", err)
	}
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Glimpse build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	prefetcher := prefetch.NewHTTPPrefetcher(ctx, prefetch.OptionsFromFlags())
	imageCache := imagecache.NewImageCache(*cacheCapacity, prefetcher)
	slog.Info("Built the image cache.", "capacity", imageCache.Capacity())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunRedisServer(groupCtx, imageCache) })
	if *metricsAddress != "" {
		group.Go(func() error { return runMetricsServer(groupCtx, *metricsAddress) })
	}
	if err := group.Wait(); err != nil {
		slog.Error("Glimpse server stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Glimpse server stopped.", "uptime", utils.Uptime())
}
