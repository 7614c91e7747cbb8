package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/aimemory"
	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/embedding"
	embmock "github.com/lexlapax/aimemory/pkg/embedding/mock"
	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/memory"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// Topic vectors standing in for a semantic model: food facts and food
// questions point the same way, the garage fact points elsewhere.
var semanticFactory = embmock.Factory(
	embmock.WithDimensions(4),
	embmock.WithEmbedding("The user likes pizza", []float32{0.9, 0.1, 0, 0}),
	embmock.WithEmbedding("What food do I like?", []float32{0.8, 0.2, 0.1, 0}),
	embmock.WithEmbedding("Garage door code is 1234", []float32{0, 0, 1, 0.1}),
	embmock.WithEmbedding("What is the garage code?", []float32{0, 0.1, 0.9, 0.1}),
)

func newRegistry(t *testing.T, backend string, maxEntries int, opts ...aimemory.Option) *memory.Registry {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(dir, "memories.db")
	cfg.Embedding.VocabularyPath = filepath.Join(dir, "vocab.json")
	cfg.Memories = []config.MemoryConfig{{ID: "assistant", Name: "Assistant", MaxEntries: maxEntries}}

	registry, err := aimemory.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	return registry
}

func contents(results []memory.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}

func TestScenarios(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBoltDB} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			registry := newRegistry(t, backend, 1000,
				aimemory.WithEmbeddingFactory(embedding.EngineTFIDF, semanticFactory))
			store := registry.Default()
			opts := memory.SearchOptions{MinScore: 0.1}

			_, err := store.Add(ctx, "The user likes pizza", scope.Private, "agentA")
			require.NoError(t, err)

			// 1. The owner finds a private fact by meaning
			results, err := store.SearchWithOptions(ctx, "What food do I like?", "agentA", opts)
			require.NoError(t, err)
			assert.Contains(t, contents(results), "The user likes pizza")

			// 2. Another owner never sees it, however close the match
			results, err = store.SearchWithOptions(ctx, "What food do I like?", "agentB", opts)
			require.NoError(t, err)
			assert.NotContains(t, contents(results), "The user likes pizza")

			// 3. Common facts are visible to every owner
			_, err = store.Add(ctx, "Garage door code is 1234", scope.Common, "")
			require.NoError(t, err)
			for _, owner := range []string{"agentA", "agentB", "agentC"} {
				results, err = store.SearchWithOptions(ctx, "What is the garage code?", owner, opts)
				require.NoError(t, err)
				assert.Contains(t, contents(results), "Garage door code is 1234", owner)
			}
		})
	}
}

func TestScenario_CapacityEviction(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBoltDB} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			store := newRegistry(t, backend, 2).Default()

			for _, fact := range []string{"fact A", "fact B", "fact C"} {
				_, err := store.Add(ctx, fact, scope.Common, "")
				require.NoError(t, err)
				time.Sleep(2 * time.Millisecond)
			}

			entries, err := store.GetAll(ctx, "anyone")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "fact C", entries[0].Content)
			assert.Equal(t, "fact B", entries[1].Content)
		})
	}
}

func TestScenario_RemoteUnreachable(t *testing.T) {
	newConfig := func(t *testing.T, fallback bool) *config.Config {
		dir := t.TempDir()
		cfg := config.Default()
		cfg.Storage.Backend = config.BackendMemory
		cfg.Embedding.Engine = embedding.EngineRemote
		cfg.Embedding.Fallback = fallback
		cfg.Embedding.VocabularyPath = filepath.Join(dir, "vocab.json")
		cfg.Embedding.Remote.URL = "http://127.0.0.1:1"
		cfg.Embedding.Remote.ProbeTimeout = 200 * time.Millisecond
		return cfg
	}
	ctx := context.Background()

	t.Run("strict", func(t *testing.T) {
		_, err := aimemory.New(ctx, newConfig(t, false))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrBackendInitialization)
	})

	t.Run("fallback", func(t *testing.T) {
		registry, err := aimemory.New(ctx, newConfig(t, true))
		require.NoError(t, err)
		defer registry.Close()

		store := registry.Default()
		assert.Equal(t, embedding.EngineTFIDF, store.EngineName())

		id, err := store.Add(ctx, "the boiler is in the basement", scope.Common, "")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, 1, store.Count(ctx))
	})
}

func TestScenario_EmptyContent(t *testing.T) {
	ctx := context.Background()
	store := newRegistry(t, config.BackendSQLite, 10).Default()

	id, err := store.Add(ctx, "", scope.Private, "agentA")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, store.Count(ctx))
}
