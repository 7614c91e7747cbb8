// Package remote implements an embedding backend backed by an
// Ollama-compatible HTTP embedding service.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lexlapax/aimemory/pkg/embedapi"
	"github.com/lexlapax/aimemory/pkg/embedding"
	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

// Defaults for the remote backend.
const (
	DefaultModel        = "BAAI/bge-small-en-v1.5"
	DefaultTimeout      = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Config holds the configuration for the remote backend.
type Config struct {
	// URL is the base URL of the embedding service
	URL string

	// Model is the model name sent with every request
	Model string

	// Dimensions is the expected vector length; 0 learns it from the first reply
	Dimensions int

	// Timeout bounds each embed and pull call
	Timeout time.Duration

	// ProbeTimeout bounds the reachability probe
	ProbeTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client
}

// Backend implements embedding.Backend over embedapi.Client.
type Backend struct {
	client       *embedapi.Client
	model        string
	timeout      time.Duration
	probeTimeout time.Duration

	dims  atomic.Int64
	ready atomic.Bool
}

// New creates a remote backend. It does not contact the service.
func New(cfg Config) *Backend {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	b := &Backend{
		client:       embedapi.NewClient(cfg.URL, cfg.HTTPClient),
		model:        cfg.Model,
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
	}
	b.dims.Store(int64(cfg.Dimensions))
	return b
}

// Factory returns an embedding.Factory that requires the service to be
// reachable and then asks it to load the model.
func Factory(cfg Config) embedding.Factory {
	return func(ctx context.Context) (embedding.Backend, error) {
		b := New(cfg)
		if !b.Ping(ctx) {
			return nil, fmt.Errorf("%w at %s", errors.ErrRemoteUnavailable, b.client.BaseURL())
		}
		b.EnsureModel(ctx)
		return b, nil
	}
}

// Name implements embedding.Backend.
func (b *Backend) Name() string { return embedding.EngineRemote }

// Model is the configured model name.
func (b *Backend) Model() string { return b.model }

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return int(b.dims.Load()) }

// Capabilities implements embedding.Backend.
func (b *Backend) Capabilities() embedding.Capabilities {
	return embedding.NewCapabilities(embedding.SupportsReachabilityProbe, embedding.SupportsModelLoading)
}

// Ping reports whether GET /api/version answers 200 within the probe timeout.
func (b *Backend) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	if _, err := b.client.Version(ctx); err != nil {
		log.DebugContext(ctx, "Embedding service probe failed",
			"url", b.client.BaseURL(),
			"error", err)
		return false
	}
	return true
}

// EnsureModel asks the service to load the model. Failure is logged and
// leaves Ready false.
func (b *Backend) EnsureModel(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.client.Pull(ctx, b.model); err != nil {
		b.ready.Store(false)
		log.WarnContext(ctx, "Embedding model not ready",
			"model", b.model,
			"url", b.client.BaseURL(),
			"error", err)
		return
	}
	b.ready.Store(true)
	log.DebugContext(ctx, "Embedding model ready", "model", b.model)
}

// Ready reports whether the last EnsureModel succeeded.
func (b *Backend) Ready() bool {
	return b.ready.Load()
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.Embed(ctx, b.model, []string{text})
	if err != nil {
		return nil, err
	}

	vec := resp.Embeddings[0]
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding from %s", errors.ErrEmbeddingBackend, b.model)
	}

	want := b.dims.Load()
	if want == 0 {
		b.dims.CompareAndSwap(0, int64(len(vec)))
	} else if int64(len(vec)) != want {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			errors.ErrEmbeddingBackend, b.model, len(vec), want)
	}
	return vec, nil
}

// ListModels returns the models the service offers. When listing fails
// the configured model is returned as the only entry.
func (b *Backend) ListModels(ctx context.Context) []embedapi.Model {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	tags, err := b.client.Tags(ctx)
	if err != nil || len(tags.Models) == 0 {
		if err != nil {
			log.DebugContext(ctx, "Listing embedding models failed", "error", err)
		}
		return []embedapi.Model{{Name: b.model, Model: b.model}}
	}
	return tags.Models
}
