package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/aimemory"
	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/embedding"
	"github.com/lexlapax/aimemory/pkg/scope"
	"github.com/lexlapax/aimemory/pkg/tools"
	"github.com/lexlapax/aimemory/test/testutil"
)

// TestRemoteEmbeddingService runs memory stores against the embedding
// service over HTTP.
func TestRemoteEmbeddingService(t *testing.T) {
	srv := testutil.NewEmbeddingServer(t, 128)
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.Path = filepath.Join(dir, "memories.db")
	cfg.Embedding.Engine = embedding.EngineRemote
	cfg.Embedding.Fallback = false
	cfg.Embedding.VocabularyPath = filepath.Join(dir, "vocab.json")
	cfg.Embedding.Remote.URL = srv.URL

	ctx := context.Background()
	registry, err := aimemory.New(ctx, cfg)
	require.NoError(t, err)
	defer registry.Close()

	store := registry.Default()
	assert.Equal(t, embedding.EngineRemote, store.EngineName())

	for _, fact := range []string{
		"kettle sits in the left cabinet",
		"spare fuses are in the hall drawer",
		"the car keys hang on the hook",
	} {
		_, err := store.Add(ctx, fact, scope.Common, "")
		require.NoError(t, err)
	}

	results, err := store.Search(ctx, "kettle left cabinet", "agentA")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "kettle sits in the left cabinet", results[0].Content)
	assert.Greater(t, results[0].Score, 0.5)

	// The same flow through the LLM tool surface
	tk := tools.New(registry)
	reply, err := tk.Dispatch(ctx, toolCall(tools.SearchMemory, `{"query":"car keys hook"}`), "agentA")
	require.NoError(t, err)
	assert.Contains(t, reply, "the car keys hang on the hook (Scope: common)")
}

func toolCall(name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       "call_1",
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
}
