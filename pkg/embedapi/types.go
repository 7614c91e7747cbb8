// Package embedapi holds the Ollama-compatible embedding HTTP contract:
// request and response bodies and a small client for them.
package embedapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Paths served by an embedding service.
const (
	PathRoot    = "/"
	PathVersion = "/api/version"
	PathTags    = "/api/tags"
	PathPull    = "/api/pull"
	PathEmbed   = "/api/embed"
)

// StatusSuccess is the pull status reported on success.
const StatusSuccess = "success"

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// StatusResponse is returned by GET /.
type StatusResponse struct {
	Status       string `json:"status"`
	Engine       string `json:"engine"`
	DefaultModel string `json:"default_model"`
}

// PullRequest is the body of POST /api/pull.
type PullRequest struct {
	Name string `json:"name"`
}

// PullResponse is returned by POST /api/pull.
type PullResponse struct {
	Status string `json:"status"`
}

// ModelDetails describes a listed model.
type ModelDetails struct {
	Family        string `json:"family,omitempty"`
	ParameterSize string `json:"parameter_size,omitempty"`
}

// Model is one entry of GET /api/tags.
type Model struct {
	Name    string        `json:"name"`
	Model   string        `json:"model"`
	Details *ModelDetails `json:"details,omitempty"`
}

// TagsResponse is returned by GET /api/tags.
type TagsResponse struct {
	Models []Model `json:"models"`
}

// Input is either a single string or a list of strings on the wire.
// It always decodes to a list.
type Input []string

// UnmarshalJSON accepts "text" or ["a", "b"].
func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*in = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("input must be a string or a list of strings: %w", err)
	}
	*in = list
	return nil
}

// EmbedRequest is the body of POST /api/embed.
type EmbedRequest struct {
	Model string `json:"model"`
	Input Input  `json:"input"`
}

// EmbedResponse is returned by POST /api/embed. The duration and count
// fields exist for Ollama compatibility.
type EmbedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	TotalDuration   int64       `json:"total_duration"`
	LoadDuration    int64       `json:"load_duration"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// ErrorResponse is the body of non-2xx replies.
type ErrorResponse struct {
	Error string `json:"error"`
}
