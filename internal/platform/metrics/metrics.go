package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS relay.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	credentialsStored prometheus.Counter
	credentialsSwept  prometheus.Counter
	storedCredentials prometheus.Gauge
	manifestsTotal    prometheus.Counter
	segmentsTotal     prometheus.Counter
	bytesRelayed      prometheus.Counter
	upstreamFailures  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_relay_requests_total",
			Help: "Total number of HTTP requests received, by route pattern and status code",
		}, []string{"route", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		credentialsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_credentials_stored_total",
			Help: "Total number of stream credential sets stored",
		}),
		credentialsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_credentials_swept_total",
			Help: "Total number of expired stream credential sets removed",
		}),
		storedCredentials: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_relay_stored_credentials",
			Help: "Number of live stream credential sets",
		}),
		manifestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_manifests_rewritten_total",
			Help: "Total number of playlists fetched and rewritten",
		}),
		segmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_segments_relayed_total",
			Help: "Total number of segment responses relayed",
		}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_bytes_relayed_total",
			Help: "Total number of segment bytes written to clients",
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_relay_upstream_failures_total",
			Help: "Upstream failures by kind (status, timeout, transport)",
		}, []string{"kind"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_relay_upstream_duration_seconds",
			Help:    "Time until the content host answered, by resource kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.credentialsStored,
		m.credentialsSwept,
		m.storedCredentials,
		m.manifestsTotal,
		m.segmentsTotal,
		m.bytesRelayed,
		m.upstreamFailures,
		m.upstreamDuration,
	)

	return m
}

// IncRequests counts one request answered with status on route.
func (m *Metrics) IncRequests(route string, status int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncCredentialsStored increments the stored credentials counter.
func (m *Metrics) IncCredentialsStored() {
	m.credentialsStored.Inc()
}

// AddCredentialsSwept adds n expired entries to the sweep counter.
func (m *Metrics) AddCredentialsSwept(n int) {
	m.credentialsSwept.Add(float64(n))
}

// SetStoredCredentials sets the live credentials gauge.
func (m *Metrics) SetStoredCredentials(n int) {
	m.storedCredentials.Set(float64(n))
}

// IncManifestsRewritten increments the rewritten playlists counter.
func (m *Metrics) IncManifestsRewritten() {
	m.manifestsTotal.Inc()
}

// IncSegmentsRelayed increments the relayed segments counter.
func (m *Metrics) IncSegmentsRelayed() {
	m.segmentsTotal.Inc()
}

// AddBytesRelayed adds n to the relayed bytes counter.
func (m *Metrics) AddBytesRelayed(n int64) {
	if n > 0 {
		m.bytesRelayed.Add(float64(n))
	}
}

// IncUpstreamFailure counts one upstream failure of the given kind.
func (m *Metrics) IncUpstreamFailure(kind string) {
	m.upstreamFailures.WithLabelValues(kind).Inc()
}

// ObserveUpstream records how long the content host took to answer.
func (m *Metrics) ObserveUpstream(resource string, seconds float64) {
	m.upstreamDuration.WithLabelValues(resource).Observe(seconds)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. stored credentials).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
