// Package openai implements an embedding backend for OpenAI-compatible
// /v1/embeddings endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"

	"github.com/lexlapax/aimemory/pkg/embedding"
	aerrors "github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// ErrEmptyAPIKey is returned when the API key is missing.
var ErrEmptyAPIKey = errors.New("API key cannot be empty")

// Config holds the configuration for the OpenAI backend.
type Config struct {
	// APIKey is the API key.
	APIKey string
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string
	// BaseURL points at any OpenAI-compatible server (LocalAI, vLLM, TEI).
	BaseURL string
	// Dimensions requests shortened vectors from models that support it; 0 keeps the native size.
	Dimensions int
}

// Backend implements embedding.Backend using go-openai.
type Backend struct {
	client     *openai.Client
	model      string
	requestDim int
	dims       atomic.Int64
}

// New creates a new OpenAI backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	b := &Backend{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		requestDim: cfg.Dimensions,
	}
	b.dims.Store(int64(cfg.Dimensions))
	return b, nil
}

// Factory adapts New to embedding.Factory.
func Factory(cfg Config) embedding.Factory {
	return func(ctx context.Context) (embedding.Backend, error) {
		return New(cfg)
	}
}

// Name implements embedding.Backend.
func (b *Backend) Name() string { return embedding.EngineOpenAI }

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return int(b.dims.Load()) }

// Capabilities implements embedding.Backend.
func (b *Backend) Capabilities() embedding.Capabilities {
	return embedding.NewCapabilities()
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request, preserving order.
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", b.model)

	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(b.model),
		Dimensions: b.requestDim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", aerrors.ErrEmbeddingBackend, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			aerrors.ErrEmbeddingBackend, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", aerrors.ErrEmbeddingBackend, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	b.dims.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}
