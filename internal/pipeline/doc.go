// Package pipeline defines the core types and interfaces shared across the
// embedding service: jobs, document records, and the narrow contracts for
// fetching, splitting, embedding, and persistence.
package pipeline
