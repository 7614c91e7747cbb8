// Package aimemory builds a memory.Registry from configuration.
package aimemory

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/embedding"
	embmock "github.com/lexlapax/aimemory/pkg/embedding/mock"
	embopenai "github.com/lexlapax/aimemory/pkg/embedding/openai"
	"github.com/lexlapax/aimemory/pkg/embedding/remote"
	"github.com/lexlapax/aimemory/pkg/embedding/tfidf"
	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/mem/ltm/adapters/kv/boltdb"
	ltmmock "github.com/lexlapax/aimemory/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/aimemory/pkg/mem/ltm/adapters/sqlstore/postgres"
	"github.com/lexlapax/aimemory/pkg/mem/ltm/adapters/sqlstore/sqlite"
	"github.com/lexlapax/aimemory/pkg/memory"
	"github.com/lexlapax/aimemory/pkg/scripting"
)

// Option configures New.
type Option func(*options)

type options struct {
	factories map[string]embedding.Factory
	lazy      bool
}

// WithEmbeddingFactory registers or replaces the factory for an engine name.
func WithEmbeddingFactory(name string, f embedding.Factory) Option {
	return func(o *options) {
		o.factories[strings.ToLower(name)] = f
	}
}

// WithLazyInit skips initializing embedding backends in New; the first
// call on each memory pays the initialization cost instead.
func WithLazyInit() Option {
	return func(o *options) {
		o.lazy = true
	}
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewFromConfigFile loads the configuration at path and calls New.
func NewFromConfigFile(ctx context.Context, path string, opts ...Option) (*memory.Registry, *config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	registry, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return registry, cfg, nil
}

// New creates one memory.Manager per configured memory, all sharing one
// storage handle and one TF-IDF vocabulary. Unless WithLazyInit is given
// every embedding backend is initialized before New returns, so a backend
// that fails without fallback is reported here.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*memory.Registry, error) {
	o := &options{factories: make(map[string]embedding.Factory)}
	for _, opt := range opts {
		opt(o)
	}

	registry := memory.NewRegistry()
	fail := func(err error) (*memory.Registry, error) {
		if cerr := registry.Close(); cerr != nil {
			log.Warn("Failed to release resources after setup error", "error", cerr)
		}
		return nil, err
	}

	newStore, closer, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if closer != nil {
		registry.AddCloser(closer)
	}

	hooks, err := initScriptEngine(cfg.Scripting)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize scripting engine: %w", err))
	}
	var managerOpts []memory.Option
	if hooks != nil {
		registry.AddCloser(hooks)
		managerOpts = append(managerOpts, memory.WithHooks(hooks))
	}

	factories := embeddingFactories(cfg.Embedding)
	for name, f := range o.factories {
		factories[name] = f
	}

	for _, mc := range cfg.Memories {
		selector := embedding.NewSelector(embedding.SelectorConfig{
			Engine:   cfg.Embedding.Engine,
			Fallback: cfg.Embedding.Fallback,
		}, factories)

		mgr, err := memory.NewManager(memory.Config{
			ID:          mc.ID,
			Name:        mc.Name,
			Description: mc.Description,
			MaxEntries:  mc.MaxEntries,
			SearchLimit: cfg.Retrieval.Limit,
			MinScore:    cfg.Retrieval.MinScore,
		}, newStore(mc.ID), selector, managerOpts...)
		if err != nil {
			return fail(err)
		}
		if err := registry.Register(mgr); err != nil {
			mgr.Close()
			return fail(err)
		}

		if !o.lazy {
			if err := mgr.Initialize(ctx); err != nil {
				return fail(fmt.Errorf("memory %q: %w", mc.ID, err))
			}
		}
	}

	log.Info("Memory registry initialized",
		"memories", len(cfg.Memories),
		"storage", cfg.Storage.Backend,
		"engine", cfg.Embedding.Engine,
		"fallback", cfg.Embedding.Fallback,
		"scripting", hooks != nil)
	return registry, nil
}

// initStorage opens the configured backend once and returns a
// constructor for per-memory stores over it.
func initStorage(ctx context.Context, cfg config.StorageConfig) (func(storeID string) ltm.Store, io.Closer, error) {
	log.Info("Initializing storage", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.OpenDB(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return func(id string) ltm.Store { return sqlite.NewSQLiteStore(db, id) }, db, nil

	case config.BackendBoltDB:
		db, err := boltdb.OpenDB(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return func(id string) ltm.Store { return boltdb.NewBoltStore(db, id) }, db, nil

	case config.BackendPostgres:
		pool, err := postgres.OpenPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		closer := closerFunc(func() error {
			pool.Close()
			return nil
		})
		return func(id string) ltm.Store { return postgres.NewPostgresStore(pool, id) }, closer, nil

	case config.BackendMemory:
		return func(id string) ltm.Store { return ltmmock.NewMockStore(id) }, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// embeddingFactories returns the factory of every engine. The TF-IDF
// vocabulary is loaded on first use and shared by every memory.
func embeddingFactories(cfg config.EmbeddingConfig) map[string]embedding.Factory {
	loadVocabulary := sync.OnceValues(func() (*tfidf.Vocabulary, error) {
		if cfg.VocabularyPath == "" {
			return tfidf.NewVocabulary(), nil
		}
		return tfidf.LoadVocabulary(cfg.VocabularyPath, cfg.VocabularySaveEvery)
	})

	return map[string]embedding.Factory{
		embedding.EngineTFIDF: func(ctx context.Context) (embedding.Backend, error) {
			vocab, err := loadVocabulary()
			if err != nil {
				return nil, err
			}
			return tfidf.New(vocab, cfg.Dimensions), nil
		},
		embedding.EngineRemote: remote.Factory(remote.Config{
			URL:          cfg.Remote.URL,
			Model:        cfg.Remote.Model,
			Timeout:      cfg.Remote.Timeout,
			ProbeTimeout: cfg.Remote.ProbeTimeout,
		}),
		embedding.EngineOpenAI: embopenai.Factory(embopenai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}),
		embedding.EngineMock: embmock.Factory(embmock.WithDimensions(cfg.Dimensions)),
	}
}

// initScriptEngine creates the Lua engine and loads every configured
// file or directory. It returns nil when scripting is disabled.
func initScriptEngine(cfg config.ScriptingConfig) (scripting.Engine, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	engine, err := scripting.NewLuaEngine(scripting.Config{
		EnableSandboxing: cfg.Sandbox,
		ScriptTimeoutMs:  cfg.TimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Lua engine: %w", err)
	}

	for _, path := range cfg.Paths {
		info, err := os.Stat(path)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("script path %s: %w", path, err)
		}
		if info.IsDir() {
			err = engine.LoadScriptDir(path)
		} else {
			err = engine.LoadScriptFile(path)
		}
		if err != nil {
			engine.Close()
			return nil, err
		}
		log.Info("Loaded scripts", "path", path)
	}

	return engine, nil
}
