package progress

import "context"

// Sink receives batches of embedding progress events from the Hub. Consume
// may be invoked concurrently and must honor ctx deadlines; a slow sink
// delays only its own batches, never the workers emitting events.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side handed to the embedding workers. Emit never
// blocks, so the crawl/split/embed pipeline cannot stall on progress
// reporting. Hub satisfies this interface.
type Emitter interface {
	Emit(evt Event)
}
