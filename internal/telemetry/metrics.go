package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xslttester/internal/diagnostic"
	"xslttester/internal/logging"
)

var (
	transforms = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xslttester",
		Name:      "transforms_total",
		Help:      "Transforms run, by outcome (ok, failed, cancelled).",
	}, []string{"outcome"})

	transformSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "xslttester",
		Name:      "transform_duration_seconds",
		Help:      "Wall time of a transform, compile included.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	prettified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xslttester",
		Name:      "prettify_total",
		Help:      "Prettify calls, by outcome (formatted, passthrough).",
	}, []string{"outcome"})

	diagnostics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xslttester",
		Name:      "diagnostics_total",
		Help:      "Diagnostics reported by transforms, by level.",
	}, []string{"level"})

	tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xslttester",
		Name:      "tasks_in_flight",
		Help:      "Background tasks started and not yet finished.",
	})
)

func init() {
	prometheus.MustRegister(transforms, transformSeconds, prettified, diagnostics, tasksInFlight)
}

// ObserveTransform records one transform of duration d.
func ObserveTransform(d time.Duration, outcome string) {
	transforms.WithLabelValues(outcome).Inc()
	transformSeconds.Observe(d.Seconds())
}

func ObservePrettify(outcome string) { prettified.WithLabelValues(outcome).Inc() }

// TaskStarted and TaskFinished track the tasks-in-flight gauge.
func TaskStarted()  { tasksInFlight.Inc() }
func TaskFinished() { tasksInFlight.Dec() }

// Diagnostics counts every diagnostic it receives by level.
func Diagnostics() diagnostic.Listener {
	return diagnostic.Each(func(d diagnostic.Diagnostic) {
		diagnostics.WithLabelValues(d.Level.String()).Inc()
	})
}

// Expose serves /metrics on port in the background. The returned server
// is shut down by the caller.
func Expose(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics server stopped", "port", port, "err", err)
		}
	}()
	return srv
}
