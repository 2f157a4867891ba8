package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dongreenberg/url-embedder/internal/progress"
)

// PrometheusSink exports embedding progress metrics via Prometheus. It owns
// all collectors for jobs started/completed/running and per-site document
// counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	docsEmbedded  *prometheus.CounterVec
	docChunks     *prometheus.CounterVec
	docDownload   *prometheus.HistogramVec
	docEmbed      *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedder_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "embedder_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedder_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		docsEmbedded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedder_docs_embedded_total",
			Help: "Document completions partitioned by site and result.",
		}, []string{"site", "result"}),
		docChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedder_doc_chunks_total",
			Help: "Chunks embedded per site.",
		}, []string{"site"}),
		docDownload: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedder_doc_download_seconds",
			Help:    "Per-document download duration partitioned by site.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
		docEmbed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedder_doc_embed_seconds",
			Help:    "Per-document embedding duration partitioned by site.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.docsEmbedded,
		s.docChunks,
		s.docDownload,
		s.docEmbed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageDocEmbedded:
		s.handleDocEvent(evt, "success")
	case progress.StageDocError:
		s.handleDocEvent(evt, "error")
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDocEvent(evt progress.Event, result string) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.docsEmbedded.WithLabelValues(site, result).Inc()
	if evt.Chunks > 0 {
		s.docChunks.WithLabelValues(site).Add(float64(evt.Chunks))
	}
	if evt.DownloadDur > 0 {
		s.docDownload.WithLabelValues(site).Observe(evt.DownloadDur.Seconds())
	}
	if evt.EmbedDur > 0 {
		s.docEmbed.WithLabelValues(site).Observe(evt.EmbedDur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
