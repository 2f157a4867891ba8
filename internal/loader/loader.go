// Package loader turns fetched pages into plain-text documents ready for
// chunking and embedding.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// Loader fetches a URL and extracts its visible text. When a detector and a
// headless fetcher are configured, probe responses that look JS-rendered are
// refetched with the headless browser before extraction.
type Loader struct {
	probe    pipeline.Fetcher
	headless pipeline.Fetcher
	detector pipeline.HeadlessDetector
	logger   *zap.Logger
}

// New builds a Loader. headless and detector may be nil to disable promotion.
func New(probe pipeline.Fetcher, headless pipeline.Fetcher, detector pipeline.HeadlessDetector, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Load fetches the URL and returns its title and visible text.
func (l *Loader) Load(ctx context.Context, url string, headlessAllowed bool) (pipeline.Document, error) {
	resp, err := l.probe.Fetch(ctx, pipeline.FetchRequest{URL: url})
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("probe fetch: %w", err)
	}

	if headlessAllowed && l.headless != nil && l.detector != nil && l.detector.ShouldPromote(resp) {
		promoted, err := l.headless.Fetch(ctx, pipeline.FetchRequest{URL: url, UseHeadless: true})
		if err != nil {
			l.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		} else {
			resp = promoted
		}
	}

	title, text, err := extractText(resp.Body)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("extract text: %w", err)
	}

	return pipeline.Document{
		URL:          resp.URL,
		Title:        title,
		Text:         text,
		UsedHeadless: resp.UsedHeadless,
	}, nil
}

// extractText strips non-content elements and collapses whitespace runs.
func extractText(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, template").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return title, collapseWhitespace(root.Text()), nil
}

// collapseWhitespace squeezes whitespace runs to single spaces but keeps
// paragraph breaks so the splitter can prefer them.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	newlines := 0
	spaces := 0
	for _, r := range s {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case unicode.IsSpace(r):
			spaces++
		default:
			if b.Len() > 0 {
				if newlines >= 2 {
					b.WriteString("\n\n")
				} else if newlines == 1 {
					b.WriteByte('\n')
				} else if spaces > 0 {
					b.WriteByte(' ')
				}
			}
			newlines = 0
			spaces = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}
