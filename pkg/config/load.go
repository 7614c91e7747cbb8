package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

var (
	validEngines  = []string{"tfidf", "remote", "openai", "mock", "auto"}
	validBackends = []string{BackendSQLite, BackendBoltDB, BackendPostgres, BackendMemory}
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice on top of Default.
func LoadFromBytes(data []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Finalize(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Finalize applies environment overrides and validates config. Loaders
// call it; callers building a Config in code should too.
func Finalize(config *Config) error {
	if err := applyEnvironmentOverrides(config); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("AIMEMORY_LOG_LEVEL", (*string)(&config.Logging.Level))
	setString("AIMEMORY_LOG_FORMAT", (*string)(&config.Logging.Format))
	setString("AIMEMORY_STORAGE_BACKEND", &config.Storage.Backend)
	setString("AIMEMORY_STORAGE_PATH", &config.Storage.Path)
	setString("AIMEMORY_STORAGE_DSN", &config.Storage.DSN)
	setString("AIMEMORY_EMBEDDING_ENGINE", &config.Embedding.Engine)
	setString("AIMEMORY_VOCABULARY_PATH", &config.Embedding.VocabularyPath)
	setString("AIMEMORY_REMOTE_URL", &config.Embedding.Remote.URL)
	setString("AIMEMORY_REMOTE_MODEL", &config.Embedding.Remote.Model)
	setString("AIMEMORY_OPENAI_BASE_URL", &config.Embedding.OpenAI.BaseURL)
	setString("OPENAI_API_KEY", &config.Embedding.OpenAI.APIKey)

	if v := os.Getenv("AIMEMORY_EMBEDDING_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.NewValidationError("AIMEMORY_EMBEDDING_FALLBACK", "not a boolean: %q", v)
		}
		config.Embedding.Fallback = b
	}
	if v := os.Getenv("AIMEMORY_MIN_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.NewValidationError("AIMEMORY_MIN_SCORE", "not a number: %q", v)
		}
		config.Retrieval.MinScore = f
	}
	return nil
}

// validateConfig applies defaults for zero values and rejects unsupported settings.
func validateConfig(config *Config) error {
	defaults := Default()

	if config.Logging.Level == "" {
		config.Logging.Level = log.InfoLevel
	}
	if config.Logging.Format == "" {
		config.Logging.Format = log.TextFormat
	}

	config.Storage.Backend = strings.ToLower(config.Storage.Backend)
	if config.Storage.Backend == "" {
		config.Storage.Backend = defaults.Storage.Backend
	}
	switch config.Storage.Backend {
	case BackendSQLite, BackendBoltDB:
		if config.Storage.Path == "" {
			config.Storage.Path = defaults.Storage.Path
		}
	case BackendPostgres:
		if config.Storage.DSN == "" {
			return errors.NewValidationError("storage.dsn", "required for the postgres backend")
		}
	case BackendMemory:
	default:
		return errors.NewValidationError("storage.backend", "unsupported backend %q (must be one of %s)",
			config.Storage.Backend, strings.Join(validBackends, ", "))
	}

	emb := &config.Embedding
	emb.Engine = strings.ToLower(emb.Engine)
	if emb.Engine == "" {
		emb.Engine = defaults.Embedding.Engine
	}
	if !contains(validEngines, emb.Engine) {
		return errors.NewValidationError("embedding.engine", "unsupported engine %q (must be one of %s)",
			emb.Engine, strings.Join(validEngines, ", "))
	}
	if emb.Dimensions <= 0 {
		emb.Dimensions = defaults.Embedding.Dimensions
	}
	if emb.VocabularySaveEvery <= 0 {
		emb.VocabularySaveEvery = defaults.Embedding.VocabularySaveEvery
	}
	if emb.Remote.URL == "" {
		emb.Remote.URL = defaults.Embedding.Remote.URL
	}
	if emb.Remote.Model == "" {
		emb.Remote.Model = defaults.Embedding.Remote.Model
	}
	if emb.Remote.Timeout <= 0 {
		emb.Remote.Timeout = defaults.Embedding.Remote.Timeout
	}
	if emb.Remote.ProbeTimeout <= 0 {
		emb.Remote.ProbeTimeout = defaults.Embedding.Remote.ProbeTimeout
	}
	if emb.OpenAI.Model == "" {
		emb.OpenAI.Model = defaults.Embedding.OpenAI.Model
	}

	if config.Retrieval.Limit <= 0 {
		config.Retrieval.Limit = defaults.Retrieval.Limit
	}
	if config.Retrieval.MinScore < -1 || config.Retrieval.MinScore >= 1 {
		return errors.NewValidationError("retrieval.min_score", "must be in [-1, 1) (got %v)", config.Retrieval.MinScore)
	}

	if config.Scripting.TimeoutMs <= 0 {
		config.Scripting.TimeoutMs = defaults.Scripting.TimeoutMs
	}
	if config.Scripting.Enabled && len(config.Scripting.Paths) == 0 {
		return errors.NewValidationError("scripting.paths", "required when scripting is enabled")
	}

	if len(config.Memories) == 0 {
		config.Memories = defaults.Memories
	}
	seen := make(map[string]bool, len(config.Memories))
	for i := range config.Memories {
		mem := &config.Memories[i]
		mem.ID = strings.TrimSpace(mem.ID)
		if mem.ID == "" {
			return errors.NewValidationError(fmt.Sprintf("memories[%d].id", i), "must not be empty")
		}
		if seen[mem.ID] {
			return errors.NewValidationError(fmt.Sprintf("memories[%d].id", i), "duplicate id %q", mem.ID)
		}
		seen[mem.ID] = true
		if mem.Name == "" {
			mem.Name = mem.ID
		}
		if mem.MaxEntries < 0 {
			return errors.NewValidationError(fmt.Sprintf("memories[%d].max_entries", i), "must not be negative")
		}
		if mem.MaxEntries == 0 {
			mem.MaxEntries = 1000
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
