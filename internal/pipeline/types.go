package pipeline

import (
	"errors"
	"net/http"
	"time"
)

// ErrJobFinished is returned by JobStore.UpdateJobStatus when the job already
// holds a terminal status. Terminal statuses never change again.
var ErrJobFinished = errors.New("job already finished")

// JobStatus represents the lifecycle state of an embedding job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	SeedURL  string `json:"seed_url"`
	MaxDepth int    `json:"max_depth"`
	Cutoff   int    `json:"cutoff"`
	// Normalize is advisory: it is recorded with the job, but normalization
	// is applied by the replica clients from service config.
	Normalize         bool              `json:"normalize" mapstructure:"normalize"`
	NormalizeProvided bool              `json:"-" mapstructure:"normalize_provided"`
	HeadlessAllowed   bool              `json:"headless_allowed" mapstructure:"headless_allowed"`
	HeadlessProvided  bool              `json:"-" mapstructure:"headless_provided"`
	ContinueOnError   bool              `json:"continue_on_error" mapstructure:"continue_on_error"`
	Tags              map[string]string `json:"tags"`
}

// Job represents the metadata persisted for each submitted embedding request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks success/failure and timing stats per job. DownloadMs and
// EmbedMs accumulate across all documents so the job summary can report total
// time spent downloading versus embedding.
type JobCounters struct {
	DocsSucceeded int   `json:"docs_succeeded"`
	DocsFailed    int   `json:"docs_failed"`
	Chunks        int   `json:"chunks"`
	DownloadMs    int64 `json:"download_ms"`
	EmbedMs       int64 `json:"embed_ms"`
}

// DocumentRecord is persisted for each embedded document.
type DocumentRecord struct {
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	Index        int       `json:"index"`
	Chunks       int       `json:"chunks"`
	Dimensions   int       `json:"dimensions"`
	UsedHeadless bool      `json:"used_headless"`
	FetchedAt    time.Time `json:"fetched_at"`
	DownloadMs   int64     `json:"download_ms"`
	EmbedMs      int64     `json:"embed_ms"`
	ContentHash  string    `json:"content_hash"`
	VectorURI    string    `json:"vector_uri"`
	ErrorText    string    `json:"error_text,omitempty"`
}

// Document is a loaded web page reduced to its visible text.
type Document struct {
	URL          string
	Title        string
	Text         string
	UsedHeadless bool
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Embedding pairs a chunk of text with its vector.
type Embedding struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job              `json:"job"`
	Documents []DocumentRecord `json:"documents"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
