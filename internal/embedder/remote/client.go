// Package remote implements pipeline.Embedder against an HTTP embedding
// replica (a text-embeddings-inference style endpoint running on a GPU box).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Config controls the embedding client.
type Config struct {
	Endpoint       string
	Model          string
	Normalize      bool
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client calls a single embedding replica over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dims       atomic.Int64
}

// New builds a Client for one replica endpoint.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Inputs    []string `json:"inputs"`
	Model     string   `json:"model,omitempty"`
	Normalize bool     `json:"normalize"`
}

// EmbedBatch embeds a batch of texts, retrying transient failures with
// exponential backoff.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embedRequest{
		Inputs:    texts,
		Model:     c.cfg.Model,
		Normalize: c.cfg.Normalize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	backoff := c.cfg.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed retry wait: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}

		vectors, retryable, err := c.embedOnce(ctx, payload)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("replica returned %d vectors for %d inputs", len(vectors), len(texts))
			}
			if len(vectors) > 0 {
				c.dims.Store(int64(len(vectors[0])))
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("embed batch against %s: %w", c.cfg.Endpoint, lastErr)
}

func (c *Client) embedOnce(ctx context.Context, payload []byte) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("post embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("replica returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, false, fmt.Errorf("decode embed response: %w", err)
	}
	return vectors, false, nil
}

// Dimensions returns the vector width observed on the last successful call,
// or 0 before any call succeeds.
func (c *Client) Dimensions() int {
	return int(c.dims.Load())
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
