// Package gcs stores embedding artifacts, vector payloads and CSV exports,
// in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket for embedding artifacts.
type Config struct {
	Bucket string
}

// BlobStore implements pipeline.BlobStore on top of a GCS bucket. Objects are
// keyed by the caller's path, typically <prefix>/<job>/<index>-<hash>.json.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New wires a BlobStore to an existing storage client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject streams one artifact into the bucket and returns its gs:// URI,
// which callers persist as the document's vector URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("object path is required")
	}
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload artifact %s: %w (close writer: %v)", path, err, closeErr)
		}
		return "", fmt.Errorf("upload artifact %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize artifact %s: %w", path, err)
	}
	return s.uri(path), nil
}

func (s *BlobStore) uri(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}
