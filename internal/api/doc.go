// Package api exposes the HTTP interface for the embedding service.
package api
