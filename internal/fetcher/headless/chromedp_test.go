package headless

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChromedpRejectsNegativeParallel(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()

	status, headers, url := meta.snapshotWithFallbacks("https://req.example", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://req.example", url)

	_, _, url = meta.snapshotWithFallbacks("https://req.example", "https://final.example")
	require.Equal(t, "https://final.example", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("X-One", "a")
	h.Add("X-Many", "a")
	h.Add("X-Many", "b")

	out := toNetworkHeaders(h)
	require.Equal(t, "a", out["X-One"])
	require.Equal(t, []string{"a", "b"}, out["X-Many"])
}
