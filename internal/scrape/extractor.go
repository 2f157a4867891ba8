// Package scrape implements the recursive same-domain URL extractor that
// seeds the embedding pipeline.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// Config controls extractor behavior.
type Config struct {
	// ContinueOnError logs and skips a failing fetch instead of aborting the
	// whole traversal. Off by default: a failed branch fails the extraction.
	ContinueOnError bool
}

// Extractor walks same-domain links breadth-bounded by depth, collecting every
// URL it visits in discovery order.
type Extractor struct {
	fetcher pipeline.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds an Extractor around a Fetcher.
func New(fetcher pipeline.Fetcher, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// ExtractURLs returns all URLs reachable from seedURL within maxDepth hops,
// in pre-order depth-first discovery order with the seed first. Only URLs on
// the seed's host are followed; each URL appears at most once. The seed
// itself counts as depth 1, so maxDepth 0 returns just the seed. Fetch
// failures follow the configured error policy.
func (e *Extractor) ExtractURLs(ctx context.Context, seedURL string, maxDepth int) ([]string, error) {
	return e.Extract(ctx, seedURL, maxDepth, e.cfg.ContinueOnError)
}

// Extract is ExtractURLs with an explicit error policy, so callers can carry
// a per-crawl override instead of the constructor default.
func (e *Extractor) Extract(ctx context.Context, seedURL string, maxDepth int, continueOnError bool) ([]string, error) {
	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("parse seed url %q: %w", seedURL, err)
	}
	if seed.Scheme == "" || seed.Host == "" {
		return nil, fmt.Errorf("seed url %q must be absolute with scheme and host", seedURL)
	}

	visited := make(map[string]struct{})
	urls, err := e.extract(ctx, seedURL, seed.Host, visited, maxDepth, 1, continueOnError)
	if err != nil {
		return nil, err
	}
	return urls, nil
}

func (e *Extractor) extract(
	ctx context.Context,
	rawURL string,
	originHost string,
	visited map[string]struct{},
	maxDepth int,
	depth int,
	continueOnError bool,
) ([]string, error) {
	if _, seen := visited[rawURL]; seen {
		return nil, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host != originHost {
		return nil, nil
	}
	// Heuristic filter against redirect-tracking links.
	if strings.Contains(rawURL, "redirect") {
		return nil, nil
	}

	visited[rawURL] = struct{}{}
	urls := []string{rawURL}

	if depth > maxDepth {
		return urls, nil
	}

	links, err := e.pageLinks(ctx, rawURL)
	if err != nil {
		if !continueOnError {
			return nil, err
		}
		e.logger.Warn("skipping failed branch", zap.String("url", rawURL), zap.Error(err))
		return urls, nil
	}

	for _, link := range links {
		children, err := e.extract(ctx, link, originHost, visited, maxDepth, depth+1, continueOnError)
		if err != nil {
			return nil, err
		}
		urls = append(urls, children...)
	}
	return urls, nil
}

// pageLinks fetches a page and returns the resolved, followable anchor hrefs
// in document order.
func (e *Extractor) pageLinks(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := e.fetcher.Fetch(ctx, pipeline.FetchRequest{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %s: %w", pageURL, err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		// Ignore links within the same page.
		if strings.HasPrefix(href, "#") {
			return
		}
		resolved := resolveHref(base, href)
		if resolved == "" {
			return
		}
		links = append(links, resolved)
	})
	return links, nil
}

// resolveHref makes href absolute against base and returns "" when the result
// lacks a scheme or host.
func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return ""
	}
	return resolved.String()
}
