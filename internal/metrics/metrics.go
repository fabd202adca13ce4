// Package metrics exposes Prometheus collectors for localization runs and
// the preview server.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
)

// Recorder owns a registry and every collector registered on it.
type Recorder struct {
	registry *prometheus.Registry

	assetFetchesTotal          *prometheus.CounterVec
	assetBytesTotal            prometheus.Counter
	assetFetchDurationSeconds  prometheus.Histogram
	rewritesTotal              *prometheus.CounterVec
	removalsTotal              *prometheus.CounterVec
	fragmentsTotal             *prometheus.CounterVec
	layoutPatchesTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		assetFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_asset_fetches_total",
				Help: "Total number of asset lookups, labeled by result.",
			},
			[]string{"result"},
		),
		assetBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "localizer_asset_bytes_total",
				Help: "Total number of asset bytes written to disk.",
			},
		),
		assetFetchDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "localizer_asset_fetch_duration_seconds",
				Help:    "Histogram of asset download durations, retries included.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		rewritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_rewrites_total",
				Help: "Total number of URL references rewritten, labeled by rule.",
			},
			[]string{"rule"},
		),
		removalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_removals_total",
				Help: "Total number of elements removed by the sanitizer, labeled by rule.",
			},
			[]string{"rule"},
		),
		fragmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_fragments_injected_total",
				Help: "Total number of fragments injected, labeled by fragment id.",
			},
			[]string{"fragment"},
		),
		layoutPatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_layout_patches_total",
				Help: "Total number of style patches planned, labeled by rule.",
			},
			[]string{"rule"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localizer_runs_total",
				Help: "Total number of pipeline runs, labeled by status.",
			},
			[]string{"status"},
		),
		rateLimitDelaySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localizer_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the per-host download limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an http.Handler for exposing the recorder's metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile dumps the registry in the text exposition format, for
// node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveAssetFetch implements assets.Observer.
func (r *Recorder) ObserveAssetFetch(result assets.Result, bytesFetched int, duration time.Duration) {
	r.assetFetchesTotal.WithLabelValues(string(result)).Inc()
	if bytesFetched > 0 {
		r.assetBytesTotal.Add(float64(bytesFetched))
	}
	if result != assets.ResultSkippedExists {
		r.assetFetchDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRewrite adds n rewrites for rule.
func (r *Recorder) ObserveRewrite(rule string, n int) {
	r.rewritesTotal.WithLabelValues(rule).Add(float64(n))
}

// ObserveRemoval adds n removals for rule.
func (r *Recorder) ObserveRemoval(rule string, n int) {
	r.removalsTotal.WithLabelValues(rule).Add(float64(n))
}

// ObserveInjection counts one injected fragment.
func (r *Recorder) ObserveInjection(fragment string) {
	r.fragmentsTotal.WithLabelValues(fragment).Inc()
}

// ObservePatch adds n layout patches for rule.
func (r *Recorder) ObservePatch(rule string, n int) {
	r.layoutPatchesTotal.WithLabelValues(rule).Add(float64(n))
}

// ObserveRun counts a finished run.
func (r *Recorder) ObserveRun(status string) {
	r.runsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay implements ratelimit.Observer.
func (r *Recorder) ObserveRateLimitDelay(host string, d time.Duration) {
	r.rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
