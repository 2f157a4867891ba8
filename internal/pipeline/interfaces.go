package pipeline

import (
	"context"
	"io"
	"time"
)

// JobStore persists job and document metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordDocument(ctx context.Context, doc DocumentRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListDocuments(ctx context.Context, jobID string) ([]DocumentRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless refetch is warranted before
// text extraction.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for embedding jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Embedder converts text chunks into vector representations.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Splitter breaks document text into chunks sized for the embedding model.
type Splitter interface {
	Split(text string) []string
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
