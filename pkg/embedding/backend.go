// Package embedding defines the text-to-vector backend contract and the
// Selector that picks one backend per memory store with TF-IDF fallback.
package embedding

import (
	"context"
	"strings"
)

// Engine names accepted by the Selector.
const (
	EngineTFIDF  = "tfidf"
	EngineRemote = "remote"
	EngineOpenAI = "openai"
	EngineMock   = "mock"
	EngineAuto   = "auto"
)

// Backend converts text into a fixed-length vector.
type Backend interface {
	// Name is the engine name reported as the active engine.
	Name() string

	// Dimensions is the vector length, or 0 while it is still unknown.
	Dimensions() int

	// Capabilities lists the optional interfaces this backend supports.
	Capabilities() Capabilities

	// Embed returns the vector for text. Equal input yields equal output
	// for a fixed backend, model and vocabulary state.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Capability tags an optional backend behaviour.
type Capability uint8

const (
	// SupportsVocabularyUpdate backends implement VocabularyUpdater.
	SupportsVocabularyUpdate Capability = 1 << iota

	// SupportsReachabilityProbe backends implement ReachabilityProber.
	SupportsReachabilityProbe

	// SupportsModelLoading backends implement ModelLoader.
	SupportsModelLoading
)

// Capabilities is a set of Capability tags.
type Capabilities uint8

// NewCapabilities builds a set from tags.
func NewCapabilities(caps ...Capability) Capabilities {
	var set Capabilities
	for _, c := range caps {
		set |= Capabilities(c)
	}
	return set
}

// Has reports whether c is in the set.
func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) != 0
}

func (s Capabilities) String() string {
	var names []string
	if s.Has(SupportsVocabularyUpdate) {
		names = append(names, "vocabulary_update")
	}
	if s.Has(SupportsReachabilityProbe) {
		names = append(names, "reachability_probe")
	}
	if s.Has(SupportsModelLoading) {
		names = append(names, "model_loading")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// VocabularyUpdater is implemented by backends whose output depends on corpus statistics.
type VocabularyUpdater interface {
	UpdateVocabulary(ctx context.Context, text string) error
}

// ReachabilityProber is implemented by backends that depend on a remote service.
type ReachabilityProber interface {
	Ping(ctx context.Context) bool
}

// ModelLoader is implemented by backends that must load a model before serving.
// EnsureModel never fails; Ready reports whether the last load succeeded.
type ModelLoader interface {
	EnsureModel(ctx context.Context)
	Ready() bool
}

// Factory constructs and validates a backend.
type Factory func(ctx context.Context) (Backend, error)
