package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

// clearEnv unsets overrides that could leak in from the developer's shell.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"AIMEMORY_LOG_LEVEL", "AIMEMORY_LOG_FORMAT", "AIMEMORY_STORAGE_BACKEND",
		"AIMEMORY_STORAGE_PATH", "AIMEMORY_STORAGE_DSN", "AIMEMORY_EMBEDDING_ENGINE",
		"AIMEMORY_VOCABULARY_PATH", "AIMEMORY_REMOTE_URL", "AIMEMORY_REMOTE_MODEL",
		"AIMEMORY_OPENAI_BASE_URL", "OPENAI_API_KEY", "AIMEMORY_EMBEDDING_FALLBACK",
		"AIMEMORY_MIN_SCORE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromBytes([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, log.InfoLevel, cfg.Logging.Level)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "./data/ai_memory.db", cfg.Storage.Path)
	assert.Equal(t, "tfidf", cfg.Embedding.Engine)
	assert.True(t, cfg.Embedding.Fallback)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Embedding.VocabularySaveEvery)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Remote.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Remote.ProbeTimeout)
	assert.Equal(t, 5, cfg.Retrieval.Limit)
	assert.Equal(t, 0.5, cfg.Retrieval.MinScore)
	assert.True(t, cfg.Scripting.Sandbox)
	require.Len(t, cfg.Memories, 1)
	assert.Equal(t, MemoryConfig{ID: "default", Name: "Default", MaxEntries: 1000}, cfg.Memories[0])
}

func TestLoadFromBytes_Full(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromBytes([]byte(`
logging:
  level: debug
  format: json
storage:
  backend: BoltDB
  path: /tmp/memories.bolt
embedding:
  engine: remote
  fallback: false
  remote:
    url: http://embedder:11434
    model: nomic-embed-text
    timeout: 3s
retrieval:
  limit: 3
  min_score: 0.2
memories:
  - id: kitchen
    description: Kitchen facts
    max_entries: 50
  - id: garage
    name: Garage
`))
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, log.JSONFormat, cfg.Logging.Format)
	assert.Equal(t, BackendBoltDB, cfg.Storage.Backend)
	assert.Equal(t, "remote", cfg.Embedding.Engine)
	assert.False(t, cfg.Embedding.Fallback)
	assert.Equal(t, "http://embedder:11434", cfg.Embedding.Remote.URL)
	assert.Equal(t, 3*time.Second, cfg.Embedding.Remote.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Remote.ProbeTimeout)
	assert.Equal(t, 3, cfg.Retrieval.Limit)
	assert.Equal(t, 0.2, cfg.Retrieval.MinScore)

	require.Len(t, cfg.Memories, 2)
	assert.Equal(t, MemoryConfig{ID: "kitchen", Name: "kitchen", Description: "Kitchen facts", MaxEntries: 50}, cfg.Memories[0])
	assert.Equal(t, MemoryConfig{ID: "garage", Name: "Garage", MaxEntries: 1000}, cfg.Memories[1])
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown backend", "storage: {backend: redis}", "storage.backend"},
		{"postgres without dsn", "storage: {backend: postgres}", "storage.dsn"},
		{"unknown engine", "embedding: {engine: bert}", "embedding.engine"},
		{"min score out of range", "retrieval: {min_score: 1.5}", "retrieval.min_score"},
		{"scripting without paths", "scripting: {enabled: true}", "scripting.paths"},
		{"duplicate memory", "memories: [{id: a}, {id: a}]", "memories[1].id"},
		{"empty memory id", "memories: [{name: nameless}]", "memories[0].id"},
		{"negative capacity", "memories: [{id: a, max_entries: -1}]", "memories[0].max_entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)

			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := LoadFromBytes([]byte("storage: [not, a, map]"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIMEMORY_STORAGE_BACKEND", "memory")
	t.Setenv("AIMEMORY_EMBEDDING_ENGINE", "OPENAI")
	t.Setenv("AIMEMORY_EMBEDDING_FALLBACK", "false")
	t.Setenv("AIMEMORY_MIN_SCORE", "0.25")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AIMEMORY_LOG_LEVEL", "warn")

	cfg, err := LoadFromBytes([]byte("storage: {backend: sqlite}"))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "openai", cfg.Embedding.Engine)
	assert.False(t, cfg.Embedding.Fallback)
	assert.Equal(t, 0.25, cfg.Retrieval.MinScore)
	assert.Equal(t, "sk-test", cfg.Embedding.OpenAI.APIKey)
	assert.Equal(t, log.WarnLevel, cfg.Logging.Level)

	t.Setenv("AIMEMORY_EMBEDDING_FALLBACK", "sometimes")
	_, err = LoadFromBytes([]byte("{}"))
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "aimemory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: {limit: 9}\n"), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieval.Limit)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFinalize_Default(t *testing.T) {
	clearEnv(t)

	cfg := Default()
	require.NoError(t, Finalize(cfg))
	assert.Equal(t, Default(), cfg)
}
