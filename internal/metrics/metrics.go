package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Capture metrics
	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagesnap",
			Subsystem: "capture",
			Name:      "total",
			Help:      "Total number of capture invocations by outcome",
		},
		[]string{"outcome", "driver"},
	)

	CaptureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pagesnap",
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Wall time of capture invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"driver"},
	)

	CapturesInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagesnap",
		Subsystem: "capture",
		Name:      "inflight",
		Help:      "Number of captures currently running.",
	})

	// Progress metrics
	ProgressMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pagesnap",
		Subsystem: "progress",
		Name:      "messages_total",
		Help:      "Total number of progress messages delivered to callers.",
	})
)

// RecordCapture counts one finished invocation.
func RecordCapture(outcome, driver string, elapsed time.Duration) {
	Captures.WithLabelValues(outcome, driver).Inc()
	if elapsed > 0 {
		CaptureDuration.WithLabelValues(driver).Observe(elapsed.Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
