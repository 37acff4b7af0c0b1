package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the segment transcoder.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	errorsTotal             prometheus.Counter
	segmentsTranscodedTotal prometheus.Counter
	endOfStreamTotal        prometheus.Counter
	failuresTotal           *prometheus.CounterVec
	coalescedTotal          prometheus.Counter
	transcodesInFlight      prometheus.Gauge
	transcodeDuration       prometheus.Histogram
	videosIngestedTotal     prometheus.Counter
	tokensRefreshedTotal    prometheus.Counter
	catalogVideos           prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	segmentsTranscodedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_segments_transcoded_total",
		Help: "Total number of segments produced by the encoding engine",
	})
	endOfStreamTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_end_of_stream_total",
		Help: "Total number of requests answered with an empty end-of-stream segment",
	})
	failuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segtx_segment_failures_total",
		Help: "Segment requests that failed, by error kind",
	}, []string{"kind"})
	coalescedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_coalesced_total",
		Help: "Segment requests served by an identical in-flight transcode",
	})
	transcodesInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segtx_transcodes_in_flight",
		Help: "Number of encoding engine runs currently holding a concurrency slot",
	})
	transcodeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "segtx_transcode_duration_seconds",
		Help:    "Wall time of a single encoding engine run",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	})
	videosIngestedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_videos_ingested_total",
		Help: "Total number of source videos registered",
	})
	tokensRefreshedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segtx_tokens_refreshed_total",
		Help: "Total number of storage access tokens reissued",
	})
	catalogVideos := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segtx_catalog_videos",
		Help: "Number of source videos in the catalog",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		segmentsTranscodedTotal,
		endOfStreamTotal,
		failuresTotal,
		coalescedTotal,
		transcodesInFlight,
		transcodeDuration,
		videosIngestedTotal,
		tokensRefreshedTotal,
		catalogVideos,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		segmentsTranscodedTotal: segmentsTranscodedTotal,
		endOfStreamTotal:        endOfStreamTotal,
		failuresTotal:           failuresTotal,
		coalescedTotal:          coalescedTotal,
		transcodesInFlight:      transcodesInFlight,
		transcodeDuration:       transcodeDuration,
		videosIngestedTotal:     videosIngestedTotal,
		tokensRefreshedTotal:    tokensRefreshedTotal,
		catalogVideos:           catalogVideos,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSegmentsTranscoded increments the transcoded segments counter.
func (m *Metrics) IncSegmentsTranscoded() {
	m.segmentsTranscodedTotal.Inc()
}

// IncEndOfStream increments the end-of-stream counter.
func (m *Metrics) IncEndOfStream() {
	m.endOfStreamTotal.Inc()
}

// IncFailure increments the failure counter for an error kind.
func (m *Metrics) IncFailure(kind string) {
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// IncCoalesced increments the coalesced request counter.
func (m *Metrics) IncCoalesced() {
	m.coalescedTotal.Inc()
}

// TranscodeStarted and TranscodeFinished bracket one engine run.
func (m *Metrics) TranscodeStarted() {
	m.transcodesInFlight.Inc()
}

func (m *Metrics) TranscodeFinished(d time.Duration) {
	m.transcodesInFlight.Dec()
	m.transcodeDuration.Observe(d.Seconds())
}

// IncVideosIngested increments the ingested videos counter.
func (m *Metrics) IncVideosIngested() {
	m.videosIngestedTotal.Inc()
}

// AddTokensRefreshed adds n reissued tokens.
func (m *Metrics) AddTokensRefreshed(n int) {
	m.tokensRefreshedTotal.Add(float64(n))
}

// SetCatalogVideos sets the catalog size gauge.
func (m *Metrics) SetCatalogVideos(n int) {
	m.catalogVideos.Set(float64(n))
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. catalog size).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
