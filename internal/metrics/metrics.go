// Package metrics bundles the Prometheus collectors of an export run. All
// methods are safe on a nil *Metrics so callers can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/ytchat-export/internal/core"
)

const namespace = "ytchat"

type Metrics struct {
	registry *prometheus.Registry

	classified        *prometheus.CounterVec
	rawDropped        prometheus.Counter
	partitionsFlushed *prometheus.CounterVec
	assetsDownloaded  *prometheus.CounterVec
	assetsSkipped     *prometheus.CounterVec
	assetErrors       prometheus.Counter
	liveClients       *prometheus.GaugeVec
	liveDrops         *prometheus.CounterVec
	liveSent          *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimited       prometheus.Counter
	archiveErrors     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_classified_total",
			Help:      "Chat messages classified, by variant",
		}, []string{"variant"}),
		rawDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_events_dropped_total",
			Help:      "Raw events rejected as malformed",
		}),
		partitionsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_flushed_total",
			Help:      "Output units written, by format",
		}, []string{"format"}),
		assetsDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_downloaded_total",
			Help:      "Images saved, by category",
		}, []string{"category"}),
		assetsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_skipped_total",
			Help:      "Images not saved without error, by reason",
		}, []string{"reason"}),
		assetErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_errors_total",
			Help:      "Image downloads that failed",
		}),
		liveClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live tail clients, by transport",
		}, []string{"transport"}),
		liveDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_drops_total",
			Help:      "Messages dropped for slow live tail clients",
		}, []string{"transport"}),
		liveSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_sent_total",
			Help:      "Messages delivered to live tail clients",
		}, []string{"transport"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected by the rate limiter",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_write_errors_total",
			Help:      "Archive write errors reported",
		}),
	}

	registry.MustRegister(
		m.classified,
		m.rawDropped,
		m.partitionsFlushed,
		m.assetsDownloaded,
		m.assetsSkipped,
		m.assetErrors,
		m.liveClients,
		m.liveDrops,
		m.liveSent,
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
		m.archiveErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observe implements classify.Observer.
func (m *Metrics) Observe(msg core.Message, _ int64) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(msg.Variant.String()).Inc()
}

func (m *Metrics) IncRawDropped() {
	if m == nil {
		return
	}
	m.rawDropped.Inc()
}

func (m *Metrics) IncPartitionsFlushed(format string) {
	if m == nil {
		return
	}
	m.partitionsFlushed.WithLabelValues(format).Inc()
}

func (m *Metrics) IncAssetDownloaded(category string) {
	if m == nil {
		return
	}
	m.assetsDownloaded.WithLabelValues(category).Inc()
}

func (m *Metrics) IncAssetSkipped(reason string) {
	if m == nil {
		return
	}
	m.assetsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAssetErrors() {
	if m == nil {
		return
	}
	m.assetErrors.Inc()
}

// IncLiveClients adjusts the live client gauge of a transport by delta.
func (m *Metrics) IncLiveClients(transport string, delta float64) {
	if m == nil {
		return
	}
	m.liveClients.WithLabelValues(transport).Add(delta)
}

func (m *Metrics) IncLiveDrops(transport string) {
	if m == nil {
		return
	}
	m.liveDrops.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncLiveSent(transport string) {
	if m == nil {
		return
	}
	m.liveSent.WithLabelValues(transport).Inc()
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncArchiveErrors() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}
