// Package splitter breaks document text into overlapping chunks sized for the
// embedding model. Splitting is recursive: paragraph breaks are preferred,
// then line breaks, then spaces, then individual characters.
package splitter

import (
	"strings"
	"unicode/utf8"
)

// Defaults match the chunking used by the embedding pipeline.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Config controls chunk sizing.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// Splitter implements pipeline.Splitter.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New builds a Splitter; zero config fields fall back to defaults.
func New(cfg Config) *Splitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}
	return &Splitter{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split chunks text into pieces of at most ChunkSize characters with
// ChunkOverlap characters carried between neighbors. Empty or whitespace-only
// text yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	pieces := splitKeepingSeparator(text, sep)

	var final []string
	var good []string
	for _, piece := range pieces {
		if length(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = appendChunk(final, piece)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge greedily joins pieces up to the chunk size, sliding the window so
// that the configured overlap is retained between consecutive chunks.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		pl := length(piece)
		if total+pl > s.chunkSize && len(current) > 0 {
			chunks = appendChunk(chunks, strings.Join(current, ""))
			for len(current) > 0 && (total > s.chunkOverlap || total+pl > s.chunkSize) {
				total -= length(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += pl
	}
	if len(current) > 0 {
		chunks = appendChunk(chunks, strings.Join(current, ""))
	}
	return chunks
}

// splitKeepingSeparator splits text on sep, keeping the separator attached to
// the front of the following piece so joins are lossless. An empty separator
// splits into individual characters.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func appendChunk(chunks []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return chunks
	}
	return append(chunks, chunk)
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
