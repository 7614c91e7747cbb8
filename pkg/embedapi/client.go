package embedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexlapax/aimemory/pkg/errors"
)

// DefaultBaseURL is where a local Ollama-compatible service listens.
const DefaultBaseURL = "http://localhost:11434"

// Client calls an embedding service. Transport failures and non-2xx
// replies are reported as errors.ErrRemoteUnavailable.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient uses one
// without a global timeout; callers bound each call through ctx.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Version calls GET /api/version.
func (c *Client) Version(ctx context.Context) (VersionResponse, error) {
	var out VersionResponse
	err := c.do(ctx, http.MethodGet, PathVersion, nil, &out)
	return out, err
}

// Pull calls POST /api/pull.
func (c *Client) Pull(ctx context.Context, name string) (PullResponse, error) {
	var out PullResponse
	err := c.do(ctx, http.MethodPost, PathPull, PullRequest{Name: name}, &out)
	if err == nil && out.Status != StatusSuccess {
		err = fmt.Errorf("%w: pull %q returned status %q", errors.ErrRemoteUnavailable, name, out.Status)
	}
	return out, err
}

// Tags calls GET /api/tags.
func (c *Client) Tags(ctx context.Context) (TagsResponse, error) {
	var out TagsResponse
	err := c.do(ctx, http.MethodGet, PathTags, nil, &out)
	return out, err
}

// Embed calls POST /api/embed. The reply must carry one vector per input.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) (EmbedResponse, error) {
	var out EmbedResponse
	if err := c.do(ctx, http.MethodPost, PathEmbed, EmbedRequest{Model: model, Input: inputs}, &out); err != nil {
		return out, err
	}
	if len(out.Embeddings) != len(inputs) {
		return out, fmt.Errorf("%w: expected %d embeddings, got %d",
			errors.ErrEmbeddingBackend, len(inputs), len(out.Embeddings))
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidInput, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", errors.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(msg, &apiErr) == nil && apiErr.Error != "" {
			msg = []byte(apiErr.Error)
		}
		return fmt.Errorf("%w: %s %s returned %d: %s",
			errors.ErrRemoteUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s reply after %s: %w",
			errors.ErrEmbeddingBackend, path, time.Since(start), err)
	}
	return nil
}
