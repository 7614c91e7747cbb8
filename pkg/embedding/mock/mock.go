// Package mock provides a deterministic in-process embedding backend for tests.
package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"github.com/lexlapax/aimemory/pkg/embedding"
	"github.com/lexlapax/aimemory/pkg/log"
)

// DefaultDimensions matches the TF-IDF default.
const DefaultDimensions = 384

// ErrMockEmbedding is returned when the backend is configured to fail.
var ErrMockEmbedding = errors.New("mock embedding error")

// Call represents a recorded method call on the mock backend.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Text is the input passed to the method.
	Text string
}

// Backend implements embedding.Backend with hash-seeded unit vectors.
type Backend struct {
	dims   int
	canned map[string][]float32

	mu          sync.Mutex
	shouldError bool
	calls       []Call
}

// Option configures a Backend.
type Option func(*Backend)

// WithDimensions sets the vector length.
func WithDimensions(dims int) Option {
	return func(b *Backend) {
		b.dims = dims
	}
}

// WithEmbedding pins the vector returned for text.
func WithEmbedding(text string, vec []float32) Option {
	return func(b *Backend) {
		b.canned[text] = vec
	}
}

// WithShouldError makes every Embed call fail.
func WithShouldError(shouldErr bool) Option {
	return func(b *Backend) {
		b.shouldError = shouldErr
	}
}

// New creates a mock backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		dims:   DefaultDimensions,
		canned: make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(b)
	}

	log.Debug("Created mock embedding backend", "dimensions", b.dims)
	return b
}

// Factory adapts New to embedding.Factory.
func Factory(opts ...Option) embedding.Factory {
	return func(ctx context.Context) (embedding.Backend, error) {
		return New(opts...), nil
	}
}

// Name implements embedding.Backend.
func (b *Backend) Name() string { return embedding.EngineMock }

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.dims }

// Capabilities implements embedding.Backend. The mock records vocabulary
// updates so callers can assert on them.
func (b *Backend) Capabilities() embedding.Capabilities {
	return embedding.NewCapabilities(embedding.SupportsVocabularyUpdate)
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{Method: "Embed", Text: text})
	if b.shouldError {
		return nil, ErrMockEmbedding
	}
	if vec, ok := b.canned[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return hashVector(text, b.dims), nil
}

// UpdateVocabulary records the call.
func (b *Backend) UpdateVocabulary(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Method: "UpdateVocabulary", Text: text})
	return nil
}

// SetShouldError toggles failure mode.
func (b *Backend) SetShouldError(shouldErr bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shouldError = shouldErr
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// hashVector derives a unit vector from text, seeded by its FNV-1a hash.
func hashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
