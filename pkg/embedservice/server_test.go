package embedservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/embedapi"
	"github.com/lexlapax/aimemory/pkg/embedding/tfidf"
	"github.com/lexlapax/aimemory/pkg/errors"
)

// stubProvider counts loads and can refuse models.
type stubProvider struct {
	loads     atomic.Int32
	failModel string
	delay     time.Duration
	listErr   error
	lister    bool
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Load(ctx context.Context, model string) (chromem.EmbeddingFunc, error) {
	p.loads.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if model == p.failModel {
		return nil, fmt.Errorf("model %q is not available", model)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 1}, nil
	}, nil
}

type listingProvider struct {
	*stubProvider
}

func (p listingProvider) ListModels(ctx context.Context) ([]embedapi.Model, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return []embedapi.Model{{Name: "a", Model: "a"}, {Name: "b", Model: "b"}}, nil
}

func newTestServer(t *testing.T, provider Provider) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{DefaultModel: "default-model"}, provider)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestStatusAndVersion(t *testing.T) {
	_, ts := newTestServer(t, &stubProvider{})
	client := embedapi.NewClient(ts.URL, nil)

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v.Version)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status embedapi.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "stub", status.Engine)
	assert.Equal(t, "default-model", status.DefaultModel)
}

func TestEmbed_StringAndListInputs(t *testing.T) {
	_, ts := newTestServer(t, &stubProvider{})

	resp, body := postJSON(t, ts.URL+"/api/embed", `{"model":"m","input":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var single embedapi.EmbedResponse
	require.NoError(t, json.Unmarshal(body, &single))
	assert.Equal(t, "m", single.Model)
	assert.Equal(t, [][]float32{{5, 1}}, single.Embeddings)
	assert.Equal(t, 1, single.PromptEvalCount)
	assert.Positive(t, single.TotalDuration)

	resp, body = postJSON(t, ts.URL+"/api/embed", `{"model":"m","input":["a","abc","ab"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list embedapi.EmbedResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}, {2, 1}}, list.Embeddings)
	// Model already cached by the first request
	assert.Zero(t, list.LoadDuration)
}

func TestEmbed_DefaultModel(t *testing.T) {
	s, ts := newTestServer(t, &stubProvider{})

	resp, body := postJSON(t, ts.URL+"/api/embed", `{"input":["x"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out embedapi.EmbedResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "default-model", out.Model)
	assert.Equal(t, []string{"default-model"}, s.Models().Loaded())
}

func TestEmbed_Errors(t *testing.T) {
	_, ts := newTestServer(t, &stubProvider{failModel: "broken"})

	resp, body := postJSON(t, ts.URL+"/api/embed", `{"model":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid request body")

	resp, _ = postJSON(t, ts.URL+"/api/embed", `{"model":"m","input":42}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = postJSON(t, ts.URL+"/api/embed", `{"model":"broken","input":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var e embedapi.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Contains(t, e.Error, "not available")
}

func TestPull(t *testing.T) {
	provider := &stubProvider{failModel: "broken"}
	s, ts := newTestServer(t, provider)
	client := embedapi.NewClient(ts.URL, nil)

	out, err := client.Pull(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, embedapi.StatusSuccess, out.Status)
	assert.Equal(t, []string{"m1"}, s.Models().Loaded())

	// A second pull is served from the cache
	_, err = client.Pull(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.loads.Load())

	_, err = client.Pull(context.Background(), "broken")
	assert.ErrorIs(t, err, errors.ErrRemoteUnavailable)

	resp, _ := postJSON(t, ts.URL+"/api/pull", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTags(t *testing.T) {
	t.Run("loaded models", func(t *testing.T) {
		s, ts := newTestServer(t, &stubProvider{})
		client := embedapi.NewClient(ts.URL, nil)

		tags, err := client.Tags(context.Background())
		require.NoError(t, err)
		require.Len(t, tags.Models, 1)
		assert.Equal(t, "default-model", tags.Models[0].Name)

		require.NoError(t, s.Warm(context.Background()))
		_, err = client.Pull(context.Background(), "another")
		require.NoError(t, err)

		tags, err = client.Tags(context.Background())
		require.NoError(t, err)
		require.Len(t, tags.Models, 2)
		assert.Equal(t, "another", tags.Models[0].Name)
		assert.Equal(t, "default-model", tags.Models[1].Name)
	})

	t.Run("provider listing", func(t *testing.T) {
		_, ts := newTestServer(t, listingProvider{&stubProvider{}})
		tags, err := embedapi.NewClient(ts.URL, nil).Tags(context.Background())
		require.NoError(t, err)
		assert.Len(t, tags.Models, 2)
	})

	t.Run("listing failure falls back to default", func(t *testing.T) {
		_, ts := newTestServer(t, listingProvider{&stubProvider{listErr: fmt.Errorf("offline")}})
		tags, err := embedapi.NewClient(ts.URL, nil).Tags(context.Background())
		require.NoError(t, err)
		require.Len(t, tags.Models, 1)
		assert.Equal(t, "default-model", tags.Models[0].Name)
	})
}

func TestModelCache_ConcurrentLoadsCollapse(t *testing.T) {
	provider := &stubProvider{delay: 50 * time.Millisecond}
	cache := NewModelCache(provider)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn, _, err := cache.Get(context.Background(), "shared")
			assert.NoError(t, err)
			assert.NotNil(t, fn)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.loads.Load())
	assert.Equal(t, []string{"shared"}, cache.Loaded())
}

func TestModelCache_FailureNotCached(t *testing.T) {
	provider := &stubProvider{failModel: "broken"}
	cache := NewModelCache(provider)

	_, _, err := cache.Get(context.Background(), "broken")
	require.Error(t, err)
	_, _, err = cache.Get(context.Background(), "broken")
	require.Error(t, err)

	assert.Equal(t, int32(2), provider.loads.Load())
	assert.Empty(t, cache.Loaded())
}

func TestStart_GracefulShutdown(t *testing.T) {
	s, err := New(Config{ListenAddr: "127.0.0.1:0"}, &stubProvider{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHashProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, ProviderHash, p.Name())

	fn, err := p.Load(context.Background(), "any")
	require.NoError(t, err)

	a, err := fn(context.Background(), "the kettle is in the cabinet")
	require.NoError(t, err)
	b, err := fn(context.Background(), "the kettle is in the cabinet")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)

	want, err := tfidf.New(nil, 64).Embed(context.Background(), "the kettle is in the cabinet")
	require.NoError(t, err)
	assert.Equal(t, want, a)
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Engine: "word2vec"})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewProvider(ProviderConfig{Engine: ProviderOpenAI})
	assert.Error(t, err)
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.6,0.8]}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{
		Engine:        ProviderOpenAI,
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: srv.URL + "/v1",
	})
	require.NoError(t, err)

	fn, err := p.Load(context.Background(), "text-embedding-3-small")
	require.NoError(t, err)
	vec, err := fn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, vec)
}

func TestOllamaProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedapi.TagsResponse{Models: []embedapi.Model{{Name: "nomic-embed-text", Model: "nomic-embed-text"}}})
	})
	// Answer both the legacy and the batch embedding shapes
	mux.HandleFunc("POST /api/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":[0.6,0.8,0],"embeddings":[[0.6,0.8,0]]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{Engine: ProviderOllama, OllamaURL: srv.URL + "/"})
	require.NoError(t, err)

	lister, ok := p.(ModelLister)
	require.True(t, ok)
	models, err := lister.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", models[0].Name)

	fn, err := p.Load(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	vec, err := fn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Engine: ProviderOllama, OllamaURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = p.Load(context.Background(), "nomic-embed-text")
	assert.Error(t, err)
}
