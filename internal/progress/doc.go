// Package progress defines the event stream emitted by embedding workers and
// the hub that batches it out to sinks.
package progress
