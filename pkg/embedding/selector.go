package embedding

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

// autoOrder is the preference order for the "auto" engine before TF-IDF.
var autoOrder = []string{EngineRemote, EngineOpenAI}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// Engine is the requested engine name
	Engine string

	// Fallback enables the one-level fallback to TF-IDF
	Fallback bool
}

// Selector owns exactly one active backend, constructed lazily on first use.
type Selector struct {
	cfg       SelectorConfig
	factories map[string]Factory

	mu      sync.Mutex
	backend Backend
}

// NewSelector creates a Selector. The factories map must contain an
// EngineTFIDF entry for the fallback to work.
func NewSelector(cfg SelectorConfig, factories map[string]Factory) *Selector {
	if cfg.Engine == "" {
		cfg.Engine = EngineTFIDF
	}
	cfg.Engine = strings.ToLower(cfg.Engine)

	fs := make(map[string]Factory, len(factories))
	for name, f := range factories {
		fs[strings.ToLower(name)] = f
	}

	return &Selector{cfg: cfg, factories: fs}
}

// Requested returns the configured engine name.
func (s *Selector) Requested() string {
	return s.cfg.Engine
}

// Initialize constructs the active backend. It is a no-op once it has
// succeeded; a failed attempt is not remembered and the next call retries.
func (s *Selector) Initialize(ctx context.Context) error {
	_, err := s.active(ctx)
	return err
}

// InitializeAsync runs Initialize on its own goroutine. The channel
// receives the result and is then closed.
func (s *Selector) InitializeAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.Initialize(ctx)
	}()
	return done
}

func (s *Selector) active(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return s.backend, nil
	}

	b, err := s.construct(ctx)
	if err != nil {
		return nil, err
	}

	s.backend = b
	log.InfoContext(ctx, "Embedding backend initialized",
		"requested", s.cfg.Engine,
		"active", b.Name(),
		"dimensions", b.Dimensions(),
		"capabilities", b.Capabilities().String())
	return b, nil
}

func (s *Selector) construct(ctx context.Context) (Backend, error) {
	var candidates []string
	if s.cfg.Engine == EngineAuto {
		for _, name := range autoOrder {
			if _, ok := s.factories[name]; ok {
				candidates = append(candidates, name)
			}
		}
	} else {
		candidates = append(candidates, s.cfg.Engine)
	}
	if s.cfg.Engine != EngineTFIDF && (s.cfg.Fallback || s.cfg.Engine == EngineAuto) {
		candidates = append(candidates, EngineTFIDF)
	}

	var errs []error
	for _, name := range candidates {
		b, err := s.build(ctx, name)
		if err == nil {
			return b, nil
		}
		log.WarnContext(ctx, "Embedding backend failed to initialize",
			"engine", name,
			"error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	return nil, fmt.Errorf("%w: %w", errors.ErrBackendInitialization, errors.Join(errs...))
}

func (s *Selector) build(ctx context.Context, name string) (Backend, error) {
	factory, ok := s.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown embedding engine (available: %s)",
			errors.ErrNotFound, strings.Join(s.engineNames(), ", "))
	}
	b, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("factory returned no backend")
	}
	return b, nil
}

func (s *Selector) engineNames() []string {
	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Embed returns the vector for text from the active backend.
func (s *Selector) Embed(ctx context.Context, text string) ([]float32, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.Embed(ctx, text)
}

// UpdateVocabulary feeds text to the active backend when it keeps corpus
// statistics. Other backends ignore the call.
func (s *Selector) UpdateVocabulary(ctx context.Context, text string) error {
	b, err := s.active(ctx)
	if err != nil {
		return err
	}
	if !b.Capabilities().Has(SupportsVocabularyUpdate) {
		return nil
	}
	updater, ok := b.(VocabularyUpdater)
	if !ok {
		return nil
	}
	return updater.UpdateVocabulary(ctx, text)
}

// EngineName is the name of the active backend, or "" before initialization.
func (s *Selector) EngineName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return ""
	}
	return s.backend.Name()
}

// Dimensions of the active backend, or 0 before initialization.
func (s *Selector) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0
	}
	return s.backend.Dimensions()
}

// Backend returns the active backend, or nil before initialization.
func (s *Selector) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Close releases the active backend.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
