package aimemory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/embedding"
	embmock "github.com/lexlapax/aimemory/pkg/embedding/mock"
	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/scope"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(dir, "memories.db")
	cfg.Embedding.VocabularyPath = filepath.Join(dir, "vocab.json")
	cfg.Embedding.Remote.ProbeTimeout = 200 * time.Millisecond
	cfg.Memories = []config.MemoryConfig{
		{ID: "kitchen", Name: "Kitchen", MaxEntries: 10},
		{ID: "garage", Name: "Garage", MaxEntries: 10},
	}
	return cfg
}

func TestNew_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBoltDB} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			registry, err := New(ctx, testConfig(t, backend))
			require.NoError(t, err)
			defer registry.Close()

			kitchen, err := registry.Get("kitchen")
			require.NoError(t, err)
			garage, err := registry.Get("garage")
			require.NoError(t, err)
			assert.Equal(t, embedding.EngineTFIDF, kitchen.EngineName())

			for _, fact := range []string{
				"kettle sits in the left cabinet",
				"spare fuses are in the drawer",
				"the car keys hang on the hook",
			} {
				_, err = kitchen.Add(ctx, fact, scope.Common, "")
				require.NoError(t, err)
			}

			// Memories share a database but not records
			assert.Equal(t, 3, kitchen.Count(ctx))
			assert.Equal(t, 0, garage.Count(ctx))

			results, err := kitchen.Search(ctx, "kettle left cabinet", "agentA")
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "kettle sits in the left cabinet", results[0].Content)
		})
	}
}

func TestNew_PersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendSQLite)

	registry, err := New(ctx, cfg)
	require.NoError(t, err)
	kitchen, err := registry.Get("kitchen")
	require.NoError(t, err)
	_, err = kitchen.Add(ctx, "milk expires friday", scope.Private, "agentA")
	require.NoError(t, err)
	require.NoError(t, registry.Close())

	_, err = os.Stat(cfg.Embedding.VocabularyPath)
	require.NoError(t, err, "vocabulary is flushed on close")

	registry, err = New(ctx, cfg)
	require.NoError(t, err)
	defer registry.Close()

	kitchen, err = registry.Get("kitchen")
	require.NoError(t, err)
	entries, err := kitchen.GetAll(ctx, "agentA")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "milk expires friday", entries[0].Content)
}

func TestNew_RemoteUnreachable(t *testing.T) {
	ctx := context.Background()

	t.Run("strict", func(t *testing.T) {
		cfg := testConfig(t, config.BackendMemory)
		cfg.Embedding.Engine = embedding.EngineRemote
		cfg.Embedding.Remote.URL = "http://127.0.0.1:1"
		cfg.Embedding.Fallback = false

		_, err := New(ctx, cfg)
		assert.ErrorIs(t, err, errors.ErrBackendInitialization)
	})

	t.Run("fallback", func(t *testing.T) {
		cfg := testConfig(t, config.BackendMemory)
		cfg.Embedding.Engine = embedding.EngineRemote
		cfg.Embedding.Remote.URL = "http://127.0.0.1:1"
		cfg.Embedding.Fallback = true

		registry, err := New(ctx, cfg)
		require.NoError(t, err)
		defer registry.Close()

		mgr := registry.Default()
		assert.Equal(t, embedding.EngineTFIDF, mgr.EngineName())
		id, err := mgr.Add(ctx, "fallback works", scope.Common, "")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}

func TestNew_LazyInit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendMemory)

	registry, err := New(ctx, cfg, WithLazyInit())
	require.NoError(t, err)
	defer registry.Close()

	mgr := registry.Default()
	assert.Empty(t, mgr.EngineName())
	require.NoError(t, mgr.Initialize(ctx))
	assert.Equal(t, embedding.EngineTFIDF, mgr.EngineName())
}

func TestNew_CustomFactory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendMemory)
	cfg.Embedding.Engine = embedding.EngineMock

	backend := embmock.New(embmock.WithDimensions(4))
	registry, err := New(ctx, cfg, WithEmbeddingFactory("MOCK", func(ctx context.Context) (embedding.Backend, error) {
		return backend, nil
	}))
	require.NoError(t, err)
	defer registry.Close()

	_, err = registry.Default().Add(ctx, "recorded", scope.Common, "")
	require.NoError(t, err)
	assert.NotEmpty(t, backend.Calls())
}

func TestNew_Scripting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks.lua"), []byte(`
		function before_add(content, scope, owner)
			return string.upper(content)
		end
	`), 0600))

	cfg := testConfig(t, config.BackendMemory)
	cfg.Scripting.Enabled = true
	cfg.Scripting.Paths = []string{dir}

	registry, err := New(ctx, cfg)
	require.NoError(t, err)
	defer registry.Close()

	mgr := registry.Default()
	_, err = mgr.Add(ctx, "shout", scope.Common, "")
	require.NoError(t, err)
	entries, _ := mgr.GetAll(ctx, "")
	require.Len(t, entries, 1)
	assert.Equal(t, "SHOUT", entries[0].Content)

	cfg.Scripting.Paths = []string{filepath.Join(dir, "missing")}
	_, err = New(ctx, cfg)
	assert.Error(t, err)
}

func TestNewFromConfigFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Setenv("AIMEMORY_STORAGE_BACKEND", "")
	t.Setenv("AIMEMORY_EMBEDDING_ENGINE", "")

	path := filepath.Join(dir, "aimemory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: memory
embedding:
  engine: tfidf
  vocabulary_path: `+filepath.Join(dir, "vocab.json")+`
memories:
  - id: notes
`), 0600))

	registry, cfg, err := NewFromConfigFile(ctx, path)
	require.NoError(t, err)
	defer registry.Close()

	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	_, err = registry.Get("notes")
	assert.NoError(t, err)

	_, _, err = NewFromConfigFile(ctx, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
