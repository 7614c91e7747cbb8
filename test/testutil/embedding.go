package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/embedservice"
)

// NewEmbeddingServer starts an in-process embedding service backed by the
// hash provider. The server is closed when the test ends.
func NewEmbeddingServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()

	provider, err := embedservice.NewProvider(embedservice.ProviderConfig{
		Engine:     embedservice.ProviderHash,
		Dimensions: dims,
	})
	require.NoError(t, err)

	srv, err := embedservice.New(embedservice.Config{}, provider)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}
