// Package pool fans embedding batches out across a fixed set of replicas,
// round-robin, with a bounded number of in-flight calls per replica.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// Pool implements pipeline.Embedder over N replicas. Batch i is routed to
// replica i mod N; each replica admits at most MaxConcurrency concurrent
// calls, so total in-flight work is bounded by N × MaxConcurrency.
type Pool struct {
	replicas []pipeline.Embedder
	slots    []chan struct{}
	next     atomic.Uint64
}

// New builds a Pool. maxConcurrency bounds in-flight calls per replica; zero
// or negative means 1.
func New(replicas []pipeline.Embedder, maxConcurrency int) (*Pool, error) {
	if len(replicas) == 0 {
		return nil, fmt.Errorf("at least one replica required")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	slots := make([]chan struct{}, len(replicas))
	for i := range slots {
		slots[i] = make(chan struct{}, maxConcurrency)
	}
	return &Pool{
		replicas: replicas,
		slots:    slots,
	}, nil
}

// EmbedBatch routes the batch to the next replica in round-robin order.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	idx := int(p.next.Add(1) - 1)
	return p.EmbedBatchAt(ctx, idx, texts)
}

// EmbedBatchAt routes the batch to replica idx mod N. Callers that process an
// indexed sequence of tasks use this for deterministic replica assignment.
func (p *Pool) EmbedBatchAt(ctx context.Context, idx int, texts []string) ([][]float32, error) {
	if idx < 0 {
		idx = -idx
	}
	i := idx % len(p.replicas)

	select {
	case p.slots[i] <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("replica %d slot wait: %w", i, ctx.Err())
	}
	defer func() { <-p.slots[i] }()

	vectors, err := p.replicas[i].EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("replica %d: %w", i, err)
	}
	return vectors, nil
}

// Dimensions reports the vector width of the first replica that knows it.
func (p *Pool) Dimensions() int {
	for _, r := range p.replicas {
		if d := r.Dimensions(); d > 0 {
			return d
		}
	}
	return 0
}

// Size returns the number of replicas.
func (p *Pool) Size() int {
	return len(p.replicas)
}
