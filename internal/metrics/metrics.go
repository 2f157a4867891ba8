// Package metrics exposes Prometheus collectors for the embedding service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	embedderDocumentsTotal       *prometheus.CounterVec
	embedderChunksTotal          *prometheus.CounterVec
	embedderDownloadSeconds      *prometheus.HistogramVec
	embedderEmbedSeconds         *prometheus.HistogramVec
	embedderReplicaRequestsTotal *prometheus.CounterVec
	embedderJobsTotal            *prometheus.CounterVec
	embedderActiveWorkers        prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		embedderDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedder_documents_total",
				Help: "Total number of documents processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		embedderChunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedder_chunks_total",
				Help: "Total number of text chunks embedded, labeled by site.",
			},
			[]string{"site"},
		)

		embedderDownloadSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedder_download_seconds",
				Help:    "Histogram of per-document download durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		embedderEmbedSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedder_embed_seconds",
				Help:    "Histogram of per-document embedding durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		embedderReplicaRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedder_replica_requests_total",
				Help: "Total embedding requests sent, labeled by replica index and outcome.",
			},
			[]string{"replica", "outcome"},
		)

		embedderJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedder_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		embedderActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedder_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument records one processed document and its stage timings.
func ObserveDocument(site string, outcome string, chunks int, download, embed time.Duration) {
	sanitizedSite := SanitizeSite(site)
	embedderDocumentsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if chunks > 0 {
		embedderChunksTotal.WithLabelValues(sanitizedSite).Add(float64(chunks))
	}
	if download > 0 {
		embedderDownloadSeconds.WithLabelValues(sanitizedSite).Observe(download.Seconds())
	}
	if embed > 0 {
		embedderEmbedSeconds.WithLabelValues(sanitizedSite).Observe(embed.Seconds())
	}
}

// ObserveReplicaRequest counts one embedding call against a replica.
func ObserveReplicaRequest(replica int, outcome string) {
	embedderReplicaRequestsTotal.WithLabelValues(strconv.Itoa(replica), outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	embedderJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	embedderActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	embedderActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
