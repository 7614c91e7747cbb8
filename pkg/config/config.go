// Package config loads the YAML configuration for aimemory.
package config

import (
	"time"

	"github.com/lexlapax/aimemory/pkg/log"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendBoltDB   = "boltdb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the top-level configuration.
type Config struct {
	// Logging configures the logging behavior
	Logging log.Config `yaml:"logging"`

	// Storage configures record persistence
	Storage StorageConfig `yaml:"storage"`

	// Embedding configures the embedding backend of every memory
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures search defaults
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Scripting configures the Lua hook engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Memories lists the memory stores to create
	Memories []MemoryConfig `yaml:"memories"`
}

// StorageConfig configures record persistence.
type StorageConfig struct {
	// Backend is one of sqlite, boltdb, postgres, memory
	Backend string `yaml:"backend"`

	// Path is the database file for sqlite and boltdb
	Path string `yaml:"path"`

	// DSN is the connection string for postgres
	DSN string `yaml:"dsn"`
}

// EmbeddingConfig configures the embedding selector and its backends.
type EmbeddingConfig struct {
	// Engine is the requested backend (tfidf, remote, openai, mock, auto)
	Engine string `yaml:"engine"`

	// Fallback enables falling back to tfidf when the engine fails to initialize
	Fallback bool `yaml:"fallback"`

	// Dimensions is the TF-IDF and mock vector length
	Dimensions int `yaml:"dimensions"`

	// VocabularyPath is the TF-IDF vocabulary file
	VocabularyPath string `yaml:"vocabulary_path"`

	// VocabularySaveEvery persists the vocabulary every N documents
	VocabularySaveEvery int `yaml:"vocabulary_save_every"`

	// Remote configures the remote embedding service
	Remote RemoteConfig `yaml:"remote"`

	// OpenAI configures the OpenAI-compatible embedding API
	OpenAI OpenAIConfig `yaml:"openai"`
}

// RemoteConfig configures the remote embedding service.
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// BaseURL points at any OpenAI-compatible endpoint; empty uses the default
	BaseURL string `yaml:"base_url"`

	// Model is the embedding model
	Model string `yaml:"model"`
}

// RetrievalConfig configures search defaults.
type RetrievalConfig struct {
	// Limit is the maximum number of results
	Limit int `yaml:"limit"`

	// MinScore is the similarity a result must strictly exceed
	MinScore float64 `yaml:"min_score"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Enabled turns on the before_add and filter_result hooks
	Enabled bool `yaml:"enabled"`

	// Paths is a list of Lua files or directories of Lua files
	Paths []string `yaml:"paths"`

	// Sandbox restricts scripts to the safe standard libraries
	Sandbox bool `yaml:"sandbox"`

	// TimeoutMs bounds a single hook call
	TimeoutMs int `yaml:"timeout_ms"`
}

// MemoryConfig describes one memory store.
type MemoryConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxEntries  int    `yaml:"max_entries"`
}

// Default returns the configuration used when no file is given. Values
// absent from a loaded file keep these defaults.
func Default() *Config {
	return &Config{
		Logging: log.DefaultConfig(),
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "./data/ai_memory.db",
		},
		Embedding: EmbeddingConfig{
			Engine:              "tfidf",
			Fallback:            true,
			Dimensions:          384,
			VocabularyPath:      "./data/ai_memory_tfidf_vocab.json",
			VocabularySaveEvery: 10,
			Remote: RemoteConfig{
				URL:          "http://localhost:11434",
				Model:        "BAAI/bge-small-en-v1.5",
				Timeout:      10 * time.Second,
				ProbeTimeout: 5 * time.Second,
			},
			OpenAI: OpenAIConfig{
				Model: "text-embedding-3-small",
			},
		},
		Retrieval: RetrievalConfig{
			Limit:    5,
			MinScore: 0.5,
		},
		Scripting: ScriptingConfig{
			Sandbox:   true,
			TimeoutMs: 1000,
		},
		Memories: []MemoryConfig{
			{ID: "default", Name: "Default", MaxEntries: 1000},
		},
	}
}
