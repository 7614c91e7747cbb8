// Package tools exposes memory stores to tool-calling LLMs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/memory"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// Tool names.
const (
	AddMemory    = "add_memory"
	SearchMemory = "search_memory"
	ListMemories = "list_memories"
)

// Prompt is the system prompt fragment that goes with the tool definitions.
const Prompt = "Use tools to manage memory. Prefer 'private' scope unless asked to share."

// Reply is the JSON object returned to the model for a tool call.
type Reply struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Results  string        `json:"results,omitempty"`
	ID       string        `json:"id,omitempty"`
	Memories []memory.Info `json:"memories,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type addArgs struct {
	Content  string `json:"content"`
	Scope    string `json:"scope"`
	MemoryID string `json:"memory_id"`
}

type searchArgs struct {
	Query    string `json:"query"`
	MemoryID string `json:"memory_id"`
}

// Tools dispatches tool calls to the stores of a registry.
type Tools struct {
	registry *memory.Registry
}

// New creates a Tools for registry.
func New(registry *memory.Registry) *Tools {
	return &Tools{registry: registry}
}

// Definitions returns the tool definitions to send with a chat request.
func (t *Tools) Definitions() []openai.Tool {
	memoryID := jsonschema.Definition{
		Type:        jsonschema.String,
		Description: "Memory to use. Defaults to the first configured memory.",
	}

	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        AddMemory,
				Description: "Add information to long-term memory. Use 'private' scope for user-specific facts, 'common' for general facts shared with other assistants.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"content": {
							Type:        jsonschema.String,
							Description: "The fact to remember.",
						},
						"scope": {
							Type:        jsonschema.String,
							Enum:        []string{string(scope.Private), string(scope.Common)},
							Description: "Visibility of the fact. Defaults to private.",
						},
						"memory_id": memoryID,
					},
					Required: []string{"content"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        SearchMemory,
				Description: "Search through long-term memory (both private and common).",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"query": {
							Type:        jsonschema.String,
							Description: "What to look for.",
						},
						"memory_id": memoryID,
					},
					Required: []string{"query"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ListMemories,
				Description: "List the available long-term memories.",
				Parameters: jsonschema.Definition{
					Type:       jsonschema.Object,
					Properties: map[string]jsonschema.Definition{},
				},
			},
		},
	}
}

// Dispatch runs a tool call on behalf of assistant and returns the JSON
// reply. An empty assistant falls back to the owner carried by ctx.
// Caller mistakes are reported in the reply; unknown tools and store
// failures are returned as errors.
func (t *Tools) Dispatch(ctx context.Context, call openai.ToolCall, assistant string) (string, error) {
	if strings.TrimSpace(assistant) == "" {
		if owner, ok := scope.OwnerFromContext(ctx); ok {
			assistant = owner
		}
	}
	log.DebugContext(ctx, "Dispatching tool call",
		"tool", call.Function.Name,
		"call_id", call.ID,
		"assistant", assistant)

	var (
		reply Reply
		err   error
	)
	switch call.Function.Name {
	case AddMemory:
		reply, err = t.add(ctx, call.Function.Arguments, assistant)
	case SearchMemory:
		reply, err = t.search(ctx, call.Function.Arguments, assistant)
	case ListMemories:
		reply = Reply{Success: true, Memories: t.registry.Infos(ctx)}
	default:
		return "", errors.Wrap(errors.ErrNotFound, "tool %q", call.Function.Name)
	}

	if err != nil {
		if !errors.Is(err, errors.ErrValidation) && !errors.Is(err, errors.ErrNotFound) {
			log.ErrorContext(ctx, "Tool call failed", "tool", call.Function.Name, "error", err)
			return "", err
		}
		reply = Reply{Success: false, Error: err.Error()}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool reply: %w", err)
	}
	return string(data), nil
}

func (t *Tools) manager(id string) (*memory.Manager, error) {
	if id != "" {
		return t.registry.Get(id)
	}
	if m := t.registry.Default(); m != nil {
		return m, nil
	}
	return nil, errors.Wrap(errors.ErrNotFound, "no memory configured")
}

func decodeArgs(raw string, v interface{}) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.NewValidationError("arguments", "malformed JSON: %v", err)
	}
	return nil
}

func (t *Tools) add(ctx context.Context, raw, assistant string) (Reply, error) {
	var args addArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Reply{}, err
	}

	sc := scope.Private
	if args.Scope != "" {
		parsed, err := scope.Parse(args.Scope)
		if err != nil {
			return Reply{}, errors.NewValidationError("scope", "must be one of %s, %s (got %q)", scope.Private, scope.Common, args.Scope)
		}
		sc = parsed
	}

	owner := strings.TrimSpace(assistant)
	if sc == scope.Private && owner == "" {
		owner = scope.UnknownOwner
	}

	m, err := t.manager(args.MemoryID)
	if err != nil {
		return Reply{}, err
	}

	id, err := m.Add(ctx, args.Content, sc, owner)
	if err != nil {
		return Reply{}, err
	}
	if id == "" {
		return Reply{Success: false, Message: "Nothing to save."}, nil
	}
	return Reply{Success: true, ID: id, Message: fmt.Sprintf("Saved to %s memory.", sc)}, nil
}

func (t *Tools) search(ctx context.Context, raw, assistant string) (Reply, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Reply{}, err
	}

	m, err := t.manager(args.MemoryID)
	if err != nil {
		return Reply{}, err
	}

	results, err := m.Search(ctx, args.Query, strings.TrimSpace(assistant))
	if err != nil {
		return Reply{}, err
	}
	if len(results) == 0 {
		return Reply{Success: true, Message: "No matching memories found."}, nil
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("- %s (Scope: %v)", r.Content, r.Metadata["scope"])
	}
	return Reply{Success: true, Results: strings.Join(lines, "\n")}, nil
}
