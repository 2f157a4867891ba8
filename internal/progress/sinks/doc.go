// Package sinks provides progress.Sink implementations backed by logging and
// Prometheus.
package sinks
