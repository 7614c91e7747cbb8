package embedservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/lexlapax/aimemory/pkg/embedapi"
	embopenai "github.com/lexlapax/aimemory/pkg/embedding/openai"
	"github.com/lexlapax/aimemory/pkg/embedding/tfidf"
	"github.com/lexlapax/aimemory/pkg/errors"
)

// Provider names accepted by NewProvider.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// probeTimeout bounds the test embedding run when a network model loads.
const probeTimeout = 30 * time.Second

// Provider turns a model name into an embedding function.
type Provider interface {
	// Name is reported as the service engine.
	Name() string

	// Load prepares model and returns its embedding function.
	Load(ctx context.Context, model string) (chromem.EmbeddingFunc, error)
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]embedapi.Model, error)
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	// Engine is one of hash, openai, ollama. Empty means hash.
	Engine string

	// Dimensions is the vector length of the hash provider.
	Dimensions int

	// OpenAIAPIKey and OpenAIBaseURL configure the openai provider.
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// OllamaURL is the Ollama server root, without the /api suffix.
	OllamaURL string
}

// NewProvider builds the provider named by cfg.Engine.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", ProviderHash:
		return &hashProvider{dims: cfg.Dimensions}, nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, embopenai.ErrEmptyAPIKey
		}
		return &openaiProvider{apiKey: cfg.OpenAIAPIKey, baseURL: cfg.OpenAIBaseURL}, nil
	case ProviderOllama:
		url := strings.TrimRight(cfg.OllamaURL, "/")
		if url == "" {
			url = embedapi.DefaultBaseURL
		}
		return &ollamaProvider{url: url, client: embedapi.NewClient(url, nil)}, nil
	default:
		return nil, errors.NewValidationError("engine", "must be one of %s, %s, %s (got %q)",
			ProviderHash, ProviderOpenAI, ProviderOllama, cfg.Engine)
	}
}

// hashProvider embeds locally with the TF-IDF vectorizer over an empty
// vocabulary, so every term weighs its normalized frequency.
type hashProvider struct {
	dims int
}

func (p *hashProvider) Name() string { return ProviderHash }

func (p *hashProvider) Load(ctx context.Context, model string) (chromem.EmbeddingFunc, error) {
	backend := tfidf.New(tfidf.NewVocabulary(), p.dims)
	return backend.Embed, nil
}

type openaiProvider struct {
	apiKey  string
	baseURL string
}

func (p *openaiProvider) Name() string { return ProviderOpenAI }

func (p *openaiProvider) Load(ctx context.Context, model string) (chromem.EmbeddingFunc, error) {
	backend, err := embopenai.New(embopenai.Config{
		APIKey:  p.apiKey,
		Model:   model,
		BaseURL: p.baseURL,
	})
	if err != nil {
		return nil, err
	}
	return probe(ctx, model, backend.Embed)
}

type ollamaProvider struct {
	url    string
	client *embedapi.Client
}

func (p *ollamaProvider) Name() string { return ProviderOllama }

func (p *ollamaProvider) Load(ctx context.Context, model string) (chromem.EmbeddingFunc, error) {
	return probe(ctx, model, chromem.NewEmbeddingFuncOllama(model, p.url+"/api"))
}

func (p *ollamaProvider) ListModels(ctx context.Context) ([]embedapi.Model, error) {
	tags, err := p.client.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return tags.Models, nil
}

// probe runs one embedding so a model that cannot serve fails at load time.
func probe(ctx context.Context, model string, fn chromem.EmbeddingFunc) (chromem.EmbeddingFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	vec, err := fn(ctx, "probe")
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("load model %q: %w: empty probe embedding", model, errors.ErrEmbeddingBackend)
	}
	return fn, nil
}
