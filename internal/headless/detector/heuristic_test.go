package detector

import (
	"strings"
	"testing"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("content ", 64)
	tests := []struct {
		name string
		resp pipeline.FetchResponse
		want bool
	}{
		{
			name: "non-200 never promotes",
			resp: pipeline.FetchResponse{StatusCode: 404, Body: nil},
			want: false,
		},
		{
			name: "empty body promotes",
			resp: pipeline.FetchResponse{StatusCode: 200, Body: []byte{}},
			want: true,
		},
		{
			name: "plain text page does not promote",
			resp: pipeline.FetchResponse{StatusCode: 200, Body: []byte("<html><body>" + filler + "</body></html>")},
			want: false,
		},
		{
			name: "react root marker promotes",
			resp: pipeline.FetchResponse{StatusCode: 200, Body: []byte(`<html><div id="root"></div></html>`)},
			want: true,
		},
		{
			name: "small script-heavy page promotes",
			resp: pipeline.FetchResponse{
				StatusCode: 200,
				Body:       []byte(`<html><script>var x = "lots of js";</script><p>hi</p></html>`),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHeuristic(0)
			if got := h.ShouldPromote(tt.resp); got != tt.want {
				t.Fatalf("ShouldPromote() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScriptDensityMalformedScript(t *testing.T) {
	t.Parallel()

	// An unterminated script tag counts through the end of the document.
	body := []byte(`<html><script src="app.js"`)
	if !scriptDensityHigh(body) {
		t.Fatal("expected malformed script to count as high density")
	}
}
