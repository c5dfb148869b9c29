// Invariants are conditions that must hold unless there is a bug in glimpse itself, e.g. a cache constructed with
// a non-positive capacity or a FIFO index that disagrees with its ordering list.
// A violated invariant is logged, counted in `invariants_total` and, in test builds, panics. Production builds keep
// running; the caller is still responsible for recovering (clamping the value, returning early, ...).
//
// Don't raise invariants for conditions that depend on the outside world: an image host returning 404 or a
// malformed URI sent by a client is an error, not an invariant violation.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records an invariant violation of `invariantType` inside `module`.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns the current value of the invariant counter with the given labels.
func GetMetricValue(module, invariantType string) int {
	return int(CounterValue(invariantsMetric.WithLabelValues(module, invariantType)))
}

// CounterValue reads the current value of a single Prometheus counter, mostly useful in tests.
func CounterValue(counter prometheus.Counter) float64 {
	var metric = &promclient.Metric{}
	if err := counter.Write(metric); err != nil {
		slog.Error("Failed to read counter value.", "error", err)
		return 0
	}
	return metric.GetCounter().GetValue()
}
