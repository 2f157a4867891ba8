// Package worker implements the embedding pipeline execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/export"
	"github.com/dongreenberg/url-embedder/internal/metrics"
	"github.com/dongreenberg/url-embedder/internal/pipeline"
	"github.com/dongreenberg/url-embedder/internal/progress"
)

// URLExtractor walks a site and returns the discovered URLs in crawl order.
// continueOnError carries the per-job policy for failing branches.
type URLExtractor interface {
	Extract(ctx context.Context, seedURL string, maxDepth int, continueOnError bool) ([]string, error)
}

// DocumentLoader fetches one URL and reduces it to visible text.
type DocumentLoader interface {
	Load(ctx context.Context, url string, headlessAllowed bool) (pipeline.Document, error)
}

// BatchEmbedder embeds chunk batches with deterministic replica assignment.
type BatchEmbedder interface {
	EmbedBatchAt(ctx context.Context, idx int, texts []string) ([][]float32, error)
	Dimensions() int
}

// Config controls Worker behavior.
type Config struct {
	ContentType    string
	BlobPrefix     string
	Topic          string
	URLConcurrency int
}

// Worker consumes queue items and executes the crawl/split/embed pipeline.
type Worker struct {
	queue     pipeline.Queue
	jobStore  pipeline.JobStore
	blobStore pipeline.BlobStore
	publisher pipeline.Publisher
	hasher    pipeline.Hasher
	clock     pipeline.Clock
	extractor URLExtractor
	loader    DocumentLoader
	embedder  BatchEmbedder
	splitter  pipeline.Splitter
	exporter  *export.Exporter
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. exporter and emitter may be nil.
func New(
	queue pipeline.Queue,
	jobStore pipeline.JobStore,
	blobStore pipeline.BlobStore,
	publisher pipeline.Publisher,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	extractor URLExtractor,
	loader DocumentLoader,
	embedder BatchEmbedder,
	splitter pipeline.Splitter,
	exporter *export.Exporter,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.URLConcurrency <= 0 {
		cfg.URLConcurrency = 4
	}
	metrics.Init()
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		extractor: extractor,
		loader:    loader,
		embedder:  embedder,
		splitter:  splitter,
		exporter:  exporter,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		metrics.IncActiveWorkers()
		w.processJob(ctx, item)
		metrics.DecActiveWorkers()
	}
}

func (w *Worker) processJob(ctx context.Context, item pipeline.QueueItem) {
	if job, err := w.jobStore.GetJob(ctx, item.JobID); err == nil && job.Status == pipeline.JobStatusCanceled {
		w.logger.Info("skipping canceled job", zap.String("job_id", item.JobID))
		metrics.ObserveJob(string(pipeline.JobStatusCanceled))
		return
	}

	counters := pipeline.JobCounters{}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, pipeline.JobStatusRunning, "", counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	jobStart := w.clock.Now()
	w.emit(progress.Event{
		JobID: progress.ParseJobID(item.JobID),
		TS:    jobStart,
		Stage: progress.StageJobStart,
	})

	urls, err := w.extractor.Extract(ctx, item.Params.SeedURL, item.Params.MaxDepth, item.Params.ContinueOnError)
	if err != nil {
		w.finishJob(ctx, item, counters, jobStart, fmt.Sprintf("extract urls: %v", err))
		return
	}
	if cutoff := item.Params.Cutoff; cutoff > 0 && len(urls) > cutoff {
		urls = urls[:cutoff]
	}
	w.logger.Info("crawl complete",
		zap.String("job_id", item.JobID),
		zap.String("seed_url", item.Params.SeedURL),
		zap.Int("urls", len(urls)),
	)

	rows, errText := w.processURLs(ctx, item, urls, &counters)
	w.exportRows(ctx, item.JobID, rows)
	w.finishJob(ctx, item, counters, jobStart, errText)
}

// processURLs fans the URL list out across a bounded set of goroutines. Export
// rows come back in crawl order regardless of completion order.
func (w *Worker) processURLs(
	ctx context.Context,
	item pipeline.QueueItem,
	urls []string,
	counters *pipeline.JobCounters,
) ([]export.Row, string) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		errText string
	)
	sem := make(chan struct{}, w.cfg.URLConcurrency)
	rows := make([]*export.Row, len(urls))

loop:
	for i, url := range urls {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			defer func() { <-sem }()

			vectors, doc, err := w.handleURL(ctx, item, idx, url)
			mu.Lock()
			defer mu.Unlock()
			counters.Chunks += doc.Chunks
			counters.DownloadMs += doc.DownloadMs
			counters.EmbedMs += doc.EmbedMs
			if err != nil {
				counters.DocsFailed++
				errText = err.Error()
				return
			}
			counters.DocsSucceeded++
			rows[idx] = &export.Row{URL: url, Vectors: vectors}
		}(i, url)
	}
	wg.Wait()
	return collectRows(rows), errText
}

func collectRows(rows []*export.Row) []export.Row {
	out := make([]export.Row, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			out = append(out, *row)
		}
	}
	return out
}

// handleURL runs the load/split/embed/persist pipeline for one URL. The
// returned record is populated even on failure so counters stay accurate.
func (w *Worker) handleURL(
	ctx context.Context,
	item pipeline.QueueItem,
	idx int,
	url string,
) ([][]float32, pipeline.DocumentRecord, error) {
	site := metrics.SanitizeSite(url)
	record := pipeline.DocumentRecord{
		JobID: item.JobID,
		URL:   url,
		Index: idx,
	}
	w.emit(progress.Event{
		JobID: progress.ParseJobID(item.JobID),
		TS:    w.clock.Now(),
		Stage: progress.StageDocStart,
		Site:  site,
		URL:   url,
	})

	downloadStart := time.Now()
	doc, err := w.loader.Load(ctx, url, item.Params.HeadlessAllowed)
	downloadDur := time.Since(downloadStart)
	record.DownloadMs = downloadDur.Milliseconds()
	record.FetchedAt = w.clock.Now()
	if err != nil {
		w.failDocument(ctx, item, record, downloadDur, 0, fmt.Errorf("load document: %w", err))
		return nil, record, fmt.Errorf("load %s: %w", url, err)
	}
	record.UsedHeadless = doc.UsedHeadless

	chunks := w.splitter.Split(doc.Text)
	record.Chunks = len(chunks)

	var (
		vectors  [][]float32
		embedDur time.Duration
	)
	if len(chunks) > 0 {
		embedStart := time.Now()
		vectors, err = w.embedder.EmbedBatchAt(ctx, idx, chunks)
		embedDur = time.Since(embedStart)
		record.EmbedMs = embedDur.Milliseconds()
		if err != nil {
			w.failDocument(ctx, item, record, downloadDur, embedDur, fmt.Errorf("embed chunks: %w", err))
			return nil, record, fmt.Errorf("embed %s: %w", url, err)
		}
	}
	record.Dimensions = w.embedder.Dimensions()

	if err := w.persistAndPublish(ctx, item, &record, chunks, vectors); err != nil {
		w.failDocument(ctx, item, record, downloadDur, embedDur, err)
		return nil, record, fmt.Errorf("persist %s: %w", url, err)
	}

	metrics.ObserveDocument(url, "succeeded", record.Chunks, downloadDur, embedDur)
	w.emit(progress.Event{
		JobID:       progress.ParseJobID(item.JobID),
		TS:          w.clock.Now(),
		Stage:       progress.StageDocEmbedded,
		Site:        site,
		URL:         url,
		Chunks:      int64(record.Chunks),
		DownloadDur: downloadDur,
		EmbedDur:    embedDur,
	})
	w.logger.Debug("document embedded",
		zap.String("job_id", item.JobID),
		zap.String("url", url),
		zap.Int("chunks", record.Chunks),
	)
	return vectors, record, nil
}

// failDocument records the failed document row and emits failure signals. The
// row insert is best effort; losing it must not mask the original error.
func (w *Worker) failDocument(
	ctx context.Context,
	item pipeline.QueueItem,
	record pipeline.DocumentRecord,
	downloadDur, embedDur time.Duration,
	cause error,
) {
	record.ErrorText = cause.Error()
	if err := w.jobStore.RecordDocument(ctx, record); err != nil {
		w.logger.Error("record failed document", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveDocument(record.URL, "failed", record.Chunks, downloadDur, embedDur)
	w.emit(progress.Event{
		JobID: progress.ParseJobID(item.JobID),
		TS:    w.clock.Now(),
		Stage: progress.StageDocError,
		Site:  metrics.SanitizeSite(record.URL),
		URL:   record.URL,
		Note:  cause.Error(),
	})
	w.logger.Error("document failed",
		zap.String("job_id", item.JobID),
		zap.String("url", record.URL),
		zap.Error(cause),
	)
}

func (w *Worker) persistAndPublish(
	ctx context.Context,
	item pipeline.QueueItem,
	record *pipeline.DocumentRecord,
	chunks []string,
	vectors [][]float32,
) error {
	embeddings := make([]pipeline.Embedding, len(chunks))
	for i := range chunks {
		embeddings[i] = pipeline.Embedding{Text: chunks[i], Vector: vectors[i]}
	}
	payload, err := json.Marshal(embeddings)
	if err != nil {
		return fmt.Errorf("marshal embeddings: %w", err)
	}

	hash, err := w.hasher.Hash(payload)
	if err != nil {
		return fmt.Errorf("hash embeddings: %w", err)
	}
	record.ContentHash = hash

	blobPath := w.buildBlobPath(item.JobID, record.Index, hash)
	uri, err := w.blobStore.PutObject(ctx, blobPath, w.cfg.ContentType, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	record.VectorURI = uri

	if err := w.jobStore.RecordDocument(ctx, *record); err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	return w.publishResult(ctx, item.JobID, *record)
}

func (w *Worker) buildBlobPath(jobID string, idx int, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%04d-%s.json", jobID, idx, hash)
	}
	return fmt.Sprintf("%s/%s/%04d-%s.json", prefix, jobID, idx, hash)
}

func (w *Worker) publishResult(ctx context.Context, jobID string, record pipeline.DocumentRecord) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":     jobID,
		"url":        record.URL,
		"vector_uri": record.VectorURI,
		"hash":       record.ContentHash,
		"chunks":     record.Chunks,
		"dimensions": record.Dimensions,
		"timestamp":  w.clock.Now().Format(time.RFC3339),
		"headless":   record.UsedHeadless,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("document published",
		zap.String("job_id", jobID),
		zap.String("url", record.URL),
		zap.String("vector_uri", record.VectorURI),
	)
	return nil
}

func (w *Worker) exportRows(ctx context.Context, jobID string, rows []export.Row) {
	if w.exporter == nil || len(rows) == 0 {
		return
	}
	localPath, uri, err := w.exporter.Export(ctx, rows)
	if err != nil {
		w.logger.Error("export failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("job_id", jobID),
		zap.String("path", localPath),
	}
	if uri != "" {
		fields = append(fields, zap.String("uri", uri))
	}
	w.logger.Info("job results exported", fields...)
}

func (w *Worker) finishJob(
	ctx context.Context,
	item pipeline.QueueItem,
	counters pipeline.JobCounters,
	jobStart time.Time,
	errText string,
) {
	status, errText := w.deriveFinalStatus(ctx, counters, errText)
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		// A job canceled via the API mid-run keeps its canceled status.
		if errors.Is(err, pipeline.ErrJobFinished) {
			w.logger.Info("job already finished", zap.String("job_id", item.JobID), zap.Error(err))
		} else {
			w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
	metrics.ObserveJob(string(status))

	stage := progress.StageJobDone
	if status != pipeline.JobStatusSucceeded {
		stage = progress.StageJobError
	}
	w.emit(progress.Event{
		JobID: progress.ParseJobID(item.JobID),
		TS:    w.clock.Now(),
		Stage: stage,
		Dur:   w.clock.Now().Sub(jobStart),
		Note:  errText,
	})
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("docs_succeeded", counters.DocsSucceeded),
		zap.Int("docs_failed", counters.DocsFailed),
		zap.Int("chunks", counters.Chunks),
		zap.Int64("download_ms", counters.DownloadMs),
		zap.Int64("embed_ms", counters.EmbedMs),
	)
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	counters pipeline.JobCounters,
	errText string,
) (pipeline.JobStatus, string) {
	if counters.DocsSucceeded == 0 && errText == "" {
		errText = "no documents were embedded"
	}

	switch {
	case ctx.Err() != nil:
		return pipeline.JobStatusCanceled, errText
	case counters.DocsSucceeded == 0:
		return pipeline.JobStatusFailed, errText
	default:
		return pipeline.JobStatusSucceeded, errText
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}
