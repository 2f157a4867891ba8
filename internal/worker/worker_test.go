package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
	"github.com/dongreenberg/url-embedder/internal/scrape"
)

type fakeJobStore struct {
	mu       sync.Mutex
	jobs     map[string]pipeline.Job
	statuses []pipeline.JobStatus
	errText  string
	counters pipeline.JobCounters
	docs     []pipeline.DocumentRecord
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]pipeline.Job{}}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) UpdateJobStatus(_ context.Context, jobID string, status pipeline.JobStatus, errText string, counters pipeline.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.errText = errText
	s.counters = counters
	job := s.jobs[jobID]
	job.ID = jobID
	job.Status = status
	s.jobs[jobID] = job
	return nil
}

func (s *fakeJobStore) RecordDocument(_ context.Context, doc pipeline.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, errors.New("job not found")
	}
	return job, nil
}

func (s *fakeJobStore) ListDocuments(_ context.Context, jobID string) ([]pipeline.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.DocumentRecord, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.JobID == jobID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *fakeJobStore) finalStatus() pipeline.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (s *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.objects[path] = body
	return "memory://" + path, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("hash-%d", len(data)), nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

type fakeExtractor struct {
	urls            []string
	err             error
	continueOnError bool
}

func (e *fakeExtractor) Extract(_ context.Context, _ string, _ int, continueOnError bool) ([]string, error) {
	e.continueOnError = continueOnError
	return e.urls, e.err
}

type fakeLoader struct {
	mu     sync.Mutex
	texts  map[string]string
	errs   map[string]error
	loaded []string
}

func (l *fakeLoader) Load(_ context.Context, url string, _ bool) (pipeline.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = append(l.loaded, url)
	if err, ok := l.errs[url]; ok {
		return pipeline.Document{}, err
	}
	return pipeline.Document{URL: url, Text: l.texts[url]}, nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	indexes []int
	err     error
}

func (e *fakeEmbedder) EmbedBatchAt(_ context.Context, idx int, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.indexes = append(e.indexes, idx)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(idx), float32(i)}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int { return 2 }

type wordSplitter struct{}

func (wordSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return strings.Fields(text)
}

func newTestWorker(
	jobStore *fakeJobStore,
	blobStore *fakeBlobStore,
	publisher *fakePublisher,
	extractor *fakeExtractor,
	loader *fakeLoader,
	embedder *fakeEmbedder,
) *Worker {
	return New(
		nil,
		jobStore,
		blobStore,
		publisher,
		fakeHasher{},
		fakeClock{},
		extractor,
		loader,
		embedder,
		wordSplitter{},
		nil,
		nil,
		Config{Topic: "documents.embedded", URLConcurrency: 2},
		zap.NewNop(),
	)
}

func TestProcessJobSuccess(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	blobStore := newFakeBlobStore()
	publisher := &fakePublisher{}
	extractor := &fakeExtractor{urls: []string{"https://example.com", "https://example.com/a"}}
	loader := &fakeLoader{texts: map[string]string{
		"https://example.com":   "alpha beta",
		"https://example.com/a": "gamma delta",
	}}
	embedder := &fakeEmbedder{}

	w := newTestWorker(jobStore, blobStore, publisher, extractor, loader, embedder)
	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", MaxDepth: 1},
	})

	require.Equal(t, pipeline.JobStatusSucceeded, jobStore.finalStatus())
	require.Equal(t, 2, jobStore.counters.DocsSucceeded)
	require.Equal(t, 0, jobStore.counters.DocsFailed)
	require.Equal(t, 4, jobStore.counters.Chunks)
	require.Len(t, jobStore.docs, 2)
	require.Equal(t, 2, publisher.count())
	require.Len(t, blobStore.objects, 2)

	// Document i must be embedded against replica slot i.
	sort.Ints(embedder.indexes)
	require.Equal(t, []int{0, 1}, embedder.indexes)
}

func TestProcessJobForwardsErrorPolicy(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	extractor := &fakeExtractor{urls: []string{"https://example.com"}}
	loader := &fakeLoader{texts: map[string]string{"https://example.com": "alpha"}}
	w := newTestWorker(jobStore, newFakeBlobStore(), &fakePublisher{}, extractor, loader, &fakeEmbedder{})

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", ContinueOnError: true},
	})

	require.True(t, extractor.continueOnError)
}

// flakyFetcher serves canned HTML pages and fails the configured URLs.
type flakyFetcher struct {
	pages map[string]string
	fails map[string]error
}

func (f *flakyFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err, ok := f.fails[req.URL]; ok {
		return pipeline.FetchResponse{}, err
	}
	return pipeline.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       []byte(f.pages[req.URL]),
	}, nil
}

// TestProcessJobContinueOnErrorSkipsFailedBranch runs the real extractor the
// way the binary wires it and checks that a per-job continue_on_error keeps
// the job alive past a dead branch.
func TestProcessJobContinueOnErrorSkipsFailedBranch(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{
		pages: map[string]string{
			"https://example.com":   `<a href="/b">b</a><a href="/c">c</a>`,
			"https://example.com/c": `<p>leaf</p>`,
		},
		fails: map[string]error{"https://example.com/b": errors.New("connection refused")},
	}
	extractor := scrape.New(fetcher, scrape.Config{}, zap.NewNop())

	jobStore := newFakeJobStore()
	loader := &fakeLoader{
		texts: map[string]string{
			"https://example.com":   "alpha beta",
			"https://example.com/c": "gamma",
		},
		errs: map[string]error{"https://example.com/b": errors.New("connection refused")},
	}
	w := New(
		nil,
		jobStore,
		newFakeBlobStore(),
		&fakePublisher{},
		fakeHasher{},
		fakeClock{},
		extractor,
		loader,
		&fakeEmbedder{},
		wordSplitter{},
		nil,
		nil,
		Config{URLConcurrency: 2},
		zap.NewNop(),
	)

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", MaxDepth: 2, ContinueOnError: true},
	})

	require.Equal(t, pipeline.JobStatusSucceeded, jobStore.finalStatus())
	require.Equal(t, 2, jobStore.counters.DocsSucceeded)
	require.Equal(t, 1, jobStore.counters.DocsFailed)

	// Without the per-job flag the dead branch fails the whole crawl.
	jobStore2 := newFakeJobStore()
	w2 := New(
		nil,
		jobStore2,
		newFakeBlobStore(),
		&fakePublisher{},
		fakeHasher{},
		fakeClock{},
		extractor,
		loader,
		&fakeEmbedder{},
		wordSplitter{},
		nil,
		nil,
		Config{URLConcurrency: 2},
		zap.NewNop(),
	)
	w2.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-2",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", MaxDepth: 2},
	})
	require.Equal(t, pipeline.JobStatusFailed, jobStore2.finalStatus())
	require.Contains(t, jobStore2.errText, "extract urls")
}

func TestProcessJobExtractFailure(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	extractor := &fakeExtractor{err: errors.New("connection refused")}
	w := newTestWorker(jobStore, newFakeBlobStore(), &fakePublisher{}, extractor, &fakeLoader{}, &fakeEmbedder{})

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com"},
	})

	require.Equal(t, pipeline.JobStatusFailed, jobStore.finalStatus())
	require.Contains(t, jobStore.errText, "extract urls")
}

func TestProcessJobPartialFailure(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	extractor := &fakeExtractor{urls: []string{"https://example.com", "https://example.com/broken"}}
	loader := &fakeLoader{
		texts: map[string]string{"https://example.com": "alpha beta"},
		errs:  map[string]error{"https://example.com/broken": errors.New("boom")},
	}
	w := newTestWorker(jobStore, newFakeBlobStore(), &fakePublisher{}, extractor, loader, &fakeEmbedder{})

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", MaxDepth: 1},
	})

	require.Equal(t, pipeline.JobStatusSucceeded, jobStore.finalStatus())
	require.Equal(t, 1, jobStore.counters.DocsSucceeded)
	require.Equal(t, 1, jobStore.counters.DocsFailed)

	// The failed URL still gets a document row carrying the error.
	var failed int
	for _, doc := range jobStore.docs {
		if doc.ErrorText != "" {
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestProcessJobAppliesCutoff(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	extractor := &fakeExtractor{urls: []string{"https://example.com", "https://example.com/a", "https://example.com/b"}}
	loader := &fakeLoader{texts: map[string]string{"https://example.com": "alpha"}}
	w := newTestWorker(jobStore, newFakeBlobStore(), &fakePublisher{}, extractor, loader, &fakeEmbedder{})

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com", MaxDepth: 1, Cutoff: 1},
	})

	require.Equal(t, []string{"https://example.com"}, loader.loaded)
}

func TestProcessJobSkipsCanceledJob(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	require.NoError(t, jobStore.CreateJob(context.Background(), pipeline.Job{
		ID:     "job-1",
		Status: pipeline.JobStatusCanceled,
	}))
	extractor := &fakeExtractor{urls: []string{"https://example.com"}}
	loader := &fakeLoader{texts: map[string]string{"https://example.com": "alpha"}}
	w := newTestWorker(jobStore, newFakeBlobStore(), &fakePublisher{}, extractor, loader, &fakeEmbedder{})

	w.processJob(context.Background(), pipeline.QueueItem{
		JobID:  "job-1",
		Params: pipeline.JobParameters{SeedURL: "https://example.com"},
	})

	require.Empty(t, jobStore.statuses)
	require.Empty(t, loader.loaded)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	w := newTestWorker(newFakeJobStore(), newFakeBlobStore(), &fakePublisher{}, &fakeExtractor{}, &fakeLoader{}, &fakeEmbedder{})

	status, errText := w.deriveFinalStatus(context.Background(), pipeline.JobCounters{DocsSucceeded: 1}, "")
	require.Equal(t, pipeline.JobStatusSucceeded, status)
	require.Empty(t, errText)

	status, errText = w.deriveFinalStatus(context.Background(), pipeline.JobCounters{}, "")
	require.Equal(t, pipeline.JobStatusFailed, status)
	require.Equal(t, "no documents were embedded", errText)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	status, _ = w.deriveFinalStatus(canceled, pipeline.JobCounters{DocsSucceeded: 1}, "")
	require.Equal(t, pipeline.JobStatusCanceled, status)
}
