package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
	docs map[string][]pipeline.DocumentRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]pipeline.Job),
		docs: make(map[string][]pipeline.DocumentRecord),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status pipeline.JobStatus,
	errText string,
	counters pipeline.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if isTerminal(job.Status) {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, pipeline.ErrJobFinished)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == pipeline.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordDocument appends a document row for a job.
func (s *JobStore) RecordDocument(_ context.Context, doc pipeline.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.JobID] = append(s.docs[doc.JobID], doc)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListDocuments returns all recorded documents for a job.
func (s *JobStore) ListDocuments(_ context.Context, jobID string) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.docs[jobID]
	out := make([]pipeline.DocumentRecord, len(docs))
	copy(out, docs)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status pipeline.JobStatus) bool {
	switch status {
	case pipeline.JobStatusSucceeded, pipeline.JobStatusFailed, pipeline.JobStatusCanceled:
		return true
	default:
		return false
	}
}
