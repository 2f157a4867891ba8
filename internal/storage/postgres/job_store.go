// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// JobStore persists jobs and document rows in Postgres.
type JobStore struct {
	pool pgxIface
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxIface) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	query := `
INSERT INTO embedding_jobs (
	id,
	status,
	submitted_at,
	parameters
) VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, paramsJSON); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates status, counters, and timestamps for a job.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status pipeline.JobStatus,
	errText string,
	counters pipeline.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := time.Now().UTC()
	query := `
UPDATE embedding_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded','failed','canceled') THEN $5 ELSE finished_at END
WHERE id = $1
  AND status NOT IN ('succeeded','failed','canceled')`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, countersJSON, now)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		scanErr := s.pool.QueryRow(ctx, `SELECT status FROM embedding_jobs WHERE id = $1`, jobID).Scan(&current)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
			return ErrNotFound
		case scanErr != nil:
			return fmt.Errorf("check job status: %w", scanErr)
		}
		return fmt.Errorf("job %s is %s: %w", jobID, current, pipeline.ErrJobFinished)
	}
	return nil
}

// RecordDocument inserts one document row for a job.
func (s *JobStore) RecordDocument(ctx context.Context, doc pipeline.DocumentRecord) error {
	query := `
INSERT INTO embedded_documents (
	job_id,
	url,
	doc_index,
	chunks,
	dimensions,
	used_headless,
	fetched_at,
	download_ms,
	embed_ms,
	content_hash,
	vector_uri,
	error_text
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	args := []any{
		doc.JobID,
		doc.URL,
		doc.Index,
		doc.Chunks,
		doc.Dimensions,
		doc.UsedHeadless,
		doc.FetchedAt,
		doc.DownloadMs,
		doc.EmbedMs,
		doc.ContentHash,
		doc.VectorURI,
		doc.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetJob fetches a single job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	query := `
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM embedding_jobs
WHERE id = $1`
	var (
		job          pipeline.Job
		status       string
		errText      *string
		paramsJSON   []byte
		countersJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&errText,
		&paramsJSON,
		&countersJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, ErrNotFound
		}
		return pipeline.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = pipeline.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return job, nil
}

// ListDocuments returns the document rows for a job ordered by crawl position.
func (s *JobStore) ListDocuments(ctx context.Context, jobID string) ([]pipeline.DocumentRecord, error) {
	query := `
SELECT job_id, url, doc_index, chunks, dimensions, used_headless, fetched_at, download_ms, embed_ms, content_hash, vector_uri, error_text
FROM embedded_documents
WHERE job_id = $1
ORDER BY doc_index ASC`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []pipeline.DocumentRecord
	for rows.Next() {
		var (
			doc     pipeline.DocumentRecord
			errText *string
		)
		err := rows.Scan(
			&doc.JobID,
			&doc.URL,
			&doc.Index,
			&doc.Chunks,
			&doc.Dimensions,
			&doc.UsedHeadless,
			&doc.FetchedAt,
			&doc.DownloadMs,
			&doc.EmbedMs,
			&doc.ContentHash,
			&doc.VectorURI,
			&errText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		if errText != nil {
			doc.ErrorText = *errText
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return docs, nil
}
