package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Normalize)
		require.Equal(t, "bge-large-en-v1.5", req.Model)

		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "bge-large-en-v1.5", Normalize: true})
	vectors, err := c.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	require.Equal(t, 3, c.Dimensions())
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	t.Parallel()

	c := New(Config{Endpoint: "http://unused.invalid"})
	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestEmbedBatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[[1.0]]`))
	}))
	defer srv.Close()

	c := New(Config{
		Endpoint:       srv.URL,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	})
	vectors, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestEmbedBatchClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, MaxRetries: 3, BackoffInitial: time.Millisecond})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestEmbedBatchVectorCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[[1.0]]`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	_, err := c.EmbedBatch(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 vectors for 2 inputs")
}
