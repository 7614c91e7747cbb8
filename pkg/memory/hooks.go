package memory

import (
	"context"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/scope"
	"github.com/lexlapax/aimemory/pkg/scripting"
)

const (
	// beforeAddFuncName may rewrite content (return a string) or reject it (return false)
	beforeAddFuncName = "before_add"

	// filterResultFuncName drops a search hit by returning false
	filterResultFuncName = "filter_result"
)

// beforeAdd calls the before_add Lua hook. Hook errors are logged and the
// content is kept unchanged.
func (m *Manager) beforeAdd(ctx context.Context, content string, sc scope.Scope, owner string) (string, bool) {
	if m.hooks == nil {
		return content, true
	}

	result, err := m.hooks.ExecuteFunction(ctx, beforeAddFuncName, content, string(sc), owner)
	if err != nil {
		logHookError(ctx, beforeAddFuncName, err)
		return content, true
	}

	switch v := result.(type) {
	case bool:
		return content, v
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	default:
		return content, true
	}
}

// filterResult calls the filter_result Lua hook. Any value other than
// false keeps the result.
func (m *Manager) filterResult(ctx context.Context, result Result, query, owner string) bool {
	if m.hooks == nil {
		return true
	}

	hit := map[string]interface{}{
		"id":       result.ID,
		"content":  result.Content,
		"score":    result.Score,
		"metadata": result.Metadata,
	}
	ret, err := m.hooks.ExecuteFunction(ctx, filterResultFuncName, hit, query, owner)
	if err != nil {
		logHookError(ctx, filterResultFuncName, err)
		return true
	}
	keep, ok := ret.(bool)
	return !ok || keep
}

func logHookError(ctx context.Context, hook string, err error) {
	if errors.Is(err, scripting.ErrFunctionNotFound) {
		return
	}
	log.WarnContext(ctx, "Error calling Lua hook", "hook", hook, "error", err)
}
