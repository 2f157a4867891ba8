package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := pipeline.Job{ID: "job-1", Status: pipeline.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusRunning, "", pipeline.JobCounters{}); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}
	record := pipeline.DocumentRecord{JobID: job.ID, URL: "https://example.com"}
	if err := store.RecordDocument(ctx, record); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}
	docs, err := store.ListDocuments(ctx, job.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments() unexpected result: docs=%v err=%v", docs, err)
	}
	docs[0].URL = "modified"
	if store.docs[job.ID][0].URL != "https://example.com" {
		t.Fatal("expected ListDocuments to return a copy")
	}

	err = store.UpdateJobStatus(
		ctx,
		job.ID,
		pipeline.JobStatusSucceeded,
		"done",
		pipeline.JobCounters{DocsSucceeded: 1},
	)
	if err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != pipeline.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ErrorText != "done" || final.Counters.DocsSucceeded != 1 {
		t.Fatalf("expected counters/error text to persist, got %+v", final)
	}
}

func TestJobStoreTerminalStatusIsFinal(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := pipeline.Job{ID: "job-1", Status: pipeline.JobStatusQueued}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	counters := pipeline.JobCounters{DocsSucceeded: 3, Chunks: 12}
	if err := store.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusSucceeded, "", counters); err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}

	err := store.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusCanceled, "canceled via API", pipeline.JobCounters{})
	if !errors.Is(err, pipeline.ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != pipeline.JobStatusSucceeded || final.Counters.DocsSucceeded != 3 {
		t.Fatalf("expected succeeded job untouched, got %+v", final)
	}
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "missing"); err == nil {
		t.Fatal("expected job not found error")
	}
	if err := store.UpdateJobStatus(ctx, "missing", pipeline.JobStatusRunning, "", pipeline.JobCounters{}); err == nil {
		t.Fatal("expected job not found error")
	}
}
