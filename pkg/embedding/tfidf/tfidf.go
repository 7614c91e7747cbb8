// Package tfidf implements a dependency-free TF-IDF embedding backend using
// feature hashing into a fixed number of buckets.
package tfidf

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/lexlapax/aimemory/pkg/embedding"
)

// DefaultDimensions is the default vector length.
const DefaultDimensions = 384

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Bucket maps a term to its vector index with 32-bit FNV-1a.
func Bucket(term string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32() % uint32(dims))
}

// Backend implements embedding.Backend.
type Backend struct {
	dims  int
	vocab *Vocabulary
}

// New creates a backend over vocab. A nil vocab gets a private in-memory one.
func New(vocab *Vocabulary, dims int) *Backend {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	if vocab == nil {
		vocab = NewVocabulary()
	}
	return &Backend{dims: dims, vocab: vocab}
}

// Factory returns an embedding.Factory that always builds over the shared vocab.
func Factory(vocab *Vocabulary, dims int) embedding.Factory {
	return func(ctx context.Context) (embedding.Backend, error) {
		return New(vocab, dims), nil
	}
}

// Name implements embedding.Backend.
func (b *Backend) Name() string { return embedding.EngineTFIDF }

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.dims }

// Capabilities implements embedding.Backend.
func (b *Backend) Capabilities() embedding.Capabilities {
	return embedding.NewCapabilities(embedding.SupportsVocabularyUpdate)
}

// Vocabulary returns the statistics the backend weights terms with.
func (b *Backend) Vocabulary() *Vocabulary { return b.vocab }

// Embed implements embedding.Backend. The result always has Dimensions()
// entries; text without tokens yields the zero vector.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, b.dims)

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return out, nil
	}

	counts := make(map[string]int, len(tokens))
	maxCount := 0
	for _, t := range tokens {
		counts[t]++
		if counts[t] > maxCount {
			maxCount = counts[t]
		}
	}

	// Sorted so collision sums are accumulated in a fixed order.
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	vec := make([]float64, b.dims)
	b.vocab.mu.RLock()
	for _, t := range terms {
		tf := float64(counts[t]) / float64(maxCount)
		vec[Bucket(t, b.dims)] += tf * b.vocab.idf(t)
	}
	b.vocab.mu.RUnlock()

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	for i, x := range vec {
		if norm > 0 {
			x /= norm
		}
		out[i] = float32(x)
	}
	return out, nil
}

// UpdateVocabulary folds text into the document statistics. Text without
// tokens is ignored. Every SaveEvery-th document the vocabulary is persisted.
func (b *Backend) UpdateVocabulary(ctx context.Context, text string) error {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	distinct := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		distinct = append(distinct, t)
	}

	if b.vocab.add(distinct) {
		return b.vocab.Save()
	}
	return nil
}

// Close persists pending vocabulary updates.
func (b *Backend) Close() error {
	return b.vocab.Flush()
}
