package loader

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

type stubFetcher struct {
	resp pipeline.FetchResponse
	err  error
}

func (s *stubFetcher) Fetch(_ context.Context, _ pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	return s.resp, s.err
}

type stubDetector struct{ promote bool }

func (s stubDetector) ShouldPromote(pipeline.FetchResponse) bool { return s.promote }

func TestLoadExtractsVisibleText(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{resp: pipeline.FetchResponse{
		URL:        "https://example.com/a",
		StatusCode: http.StatusOK,
		Body: []byte(`<html><head><title>Poker</title>
			<style>body { color: red }</style></head>
			<body><script>ignore()</script><h1>Poker</h1>
			<p>Texas   hold'em</p><p>Omaha</p></body></html>`),
	}}

	l := New(probe, nil, nil, zap.NewNop())
	doc, err := l.Load(context.Background(), "https://example.com/a", false)
	require.NoError(t, err)
	require.Equal(t, "Poker", doc.Title)
	require.Contains(t, doc.Text, "Texas hold'em")
	require.Contains(t, doc.Text, "Omaha")
	require.NotContains(t, doc.Text, "ignore()")
	require.NotContains(t, doc.Text, "color: red")
	require.False(t, doc.UsedHeadless)
}

func TestLoadPromotesToHeadless(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{resp: pipeline.FetchResponse{
		URL:        "https://example.com/spa",
		StatusCode: http.StatusOK,
		Body:       []byte(`<div id="root"></div>`),
	}}
	headless := &stubFetcher{resp: pipeline.FetchResponse{
		URL:          "https://example.com/spa",
		StatusCode:   http.StatusOK,
		Body:         []byte(`<html><body><p>rendered content</p></body></html>`),
		UsedHeadless: true,
	}}

	l := New(probe, headless, stubDetector{promote: true}, zap.NewNop())
	doc, err := l.Load(context.Background(), "https://example.com/spa", true)
	require.NoError(t, err)
	require.Contains(t, doc.Text, "rendered content")
	require.True(t, doc.UsedHeadless)
}

func TestLoadHeadlessFailureFallsBackToProbe(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{resp: pipeline.FetchResponse{
		URL:        "https://example.com/spa",
		StatusCode: http.StatusOK,
		Body:       []byte(`<body><p>probe text</p></body>`),
	}}
	headless := &stubFetcher{err: errors.New("browser crashed")}

	l := New(probe, headless, stubDetector{promote: true}, zap.NewNop())
	doc, err := l.Load(context.Background(), "https://example.com/spa", true)
	require.NoError(t, err)
	require.Contains(t, doc.Text, "probe text")
	require.False(t, doc.UsedHeadless)
}

func TestLoadProbeError(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{err: errors.New("dns failure")}
	l := New(probe, nil, nil, zap.NewNop())
	_, err := l.Load(context.Background(), "https://example.com/a", false)
	require.Error(t, err)
}
