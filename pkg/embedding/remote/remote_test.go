package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/embedapi"
	"github.com/lexlapax/aimemory/pkg/embedding"
	"github.com/lexlapax/aimemory/pkg/errors"
)

// fakeService is a minimal Ollama-compatible handler.
type fakeService struct {
	pullFails  bool
	tagsFail   atomic.Bool
	embedDelay time.Duration
	pulls      atomic.Int32

	mu        sync.Mutex
	lastEmbed embedapi.EmbedRequest
}

func (f *fakeService) last() embedapi.EmbedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastEmbed
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedapi.VersionResponse{Version: "0.1.0"})
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		f.pulls.Add(1)
		if f.pullFails {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(embedapi.ErrorResponse{Error: "model load failed"})
			return
		}
		json.NewEncoder(w).Encode(embedapi.PullResponse{Status: embedapi.StatusSuccess})
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		if f.tagsFail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(embedapi.TagsResponse{Models: []embedapi.Model{
			{Name: "m1", Model: "m1"}, {Name: "m2", Model: "m2"},
		}})
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		if f.embedDelay > 0 {
			time.Sleep(f.embedDelay)
		}
		var req embedapi.EmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastEmbed = req
		f.mu.Unlock()
		resp := embedapi.EmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.6, 0.8, 0})
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func TestFactory_Reachable(t *testing.T) {
	fake := &fakeService{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b, err := Factory(Config{URL: srv.URL, Model: "m1"})(context.Background())
	require.NoError(t, err)

	rb := b.(*Backend)
	assert.Equal(t, embedding.EngineRemote, rb.Name())
	assert.True(t, rb.Ready())
	assert.Equal(t, int32(1), fake.pulls.Load())
	assert.True(t, rb.Capabilities().Has(embedding.SupportsReachabilityProbe))
	assert.False(t, rb.Capabilities().Has(embedding.SupportsVocabularyUpdate))
}

func TestFactory_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Factory(Config{URL: url, ProbeTimeout: time.Second})(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteUnavailable))
}

func TestEnsureModel_FailureLeavesNotReady(t *testing.T) {
	fake := &fakeService{pullFails: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b, err := Factory(Config{URL: srv.URL})(context.Background())
	require.NoError(t, err, "pull failure must not fail initialization")
	assert.False(t, b.(*Backend).Ready())
}

func TestEmbed(t *testing.T) {
	fake := &fakeService{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b := New(Config{URL: srv.URL, Model: "m1"})
	assert.Equal(t, 0, b.Dimensions())

	vec, err := b.Embed(context.Background(), "the user likes pizza")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8, 0}, vec)
	assert.Equal(t, 3, b.Dimensions(), "dimension learned from first reply")
	assert.Equal(t, "m1", fake.last().Model)
	assert.Equal(t, embedapi.Input{"the user likes pizza"}, fake.last().Input)
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler())
	defer srv.Close()

	b := New(Config{URL: srv.URL, Dimensions: 384})
	_, err := b.Embed(context.Background(), "pizza")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmbeddingBackend))
}

func TestEmbed_Timeout(t *testing.T) {
	fake := &fakeService{embedDelay: 200 * time.Millisecond}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b := New(Config{URL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := b.Embed(context.Background(), "pizza")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteUnavailable))
}

func TestListModels(t *testing.T) {
	fake := &fakeService{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b := New(Config{URL: srv.URL, Model: "m1"})
	models := b.ListModels(context.Background())
	require.Len(t, models, 2)
	assert.Equal(t, "m2", models[1].Name)

	fake.tagsFail.Store(true)
	models = b.ListModels(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, "m1", models[0].Name)
}
