// Package scripting embeds a Lua interpreter used for memory hooks.
package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
)

// ErrFunctionNotFound is returned when calling a Lua function that no loaded script defines.
var ErrFunctionNotFound = fmt.Errorf("lua function not found: %w", errors.ErrNotFound)

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all *.lua files in a directory, in name order.
	LoadScriptDir(dir string) error

	// HasFunction reports whether a global Lua function is defined.
	HasFunction(funcName string) bool

	// ExecuteFunction calls a Lua function with the given arguments and
	// returns its first result converted to Go.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// Close releases resources associated with the engine.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing restricts access to potentially dangerous Lua modules like os and io
	EnableSandboxing bool

	// ScriptTimeoutMs sets a maximum execution time for a single call in milliseconds
	ScriptTimeoutMs int
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
	}
}

// LuaEngine implements Engine on a single gopher-lua state. Calls are serialized.
type LuaEngine struct {
	mu     sync.Mutex
	L      *lua.LState
	config Config
	closed bool
}

// NewLuaEngine creates a Lua state with the aimemory API registered.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	if config.ScriptTimeoutMs <= 0 {
		config.ScriptTimeoutMs = DefaultConfig().ScriptTimeoutMs
	}

	var L *lua.LState
	if config.EnableSandboxing {
		L = lua.NewState(lua.Options{SkipOpenLibs: true})
		setupSandbox(L)
	} else {
		L = lua.NewState()
	}
	registerAPIFunctions(L)

	log.Debug("Lua scripting engine initialized",
		"sandboxed", config.EnableSandboxing,
		"timeout_ms", config.ScriptTimeoutMs)

	return &LuaEngine{L: L, config: config}, nil
}

// LoadScript implements Engine.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: engine closed", errors.ErrLuaExecution)
	}

	fn, err := e.L.LoadString(string(content))
	if err != nil {
		return fmt.Errorf("%w: failed to compile script %s: %v", errors.ErrLuaExecution, name, err)
	}
	e.L.Push(fn)
	if err := e.L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("%w: failed to run script %s: %v", errors.ErrLuaExecution, name, err)
	}

	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile implements Engine.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir implements Engine.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read script directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.LoadScriptFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	_, ok := e.L.GetGlobal(funcName).(*lua.LFunction)
	return ok
}

// ExecuteFunction implements Engine.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", errors.ErrLuaExecution)
	}

	fn, ok := e.L.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, funcName)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
	defer cancel()

	e.L.SetContext(callCtx)
	defer e.L.RemoveContext()
	e.L.SetGlobal("ctx", contextTable(e.L, ctx))

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.L, arg)
	}

	err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrLuaExecution, funcName, err)
	}

	ret := e.L.Get(-1)
	e.L.Pop(1)
	return convertLuaToGo(ret), nil
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.L.Close()
		e.closed = true
	}
	return nil
}

// contextTable exposes the caller's deadline and owner to scripts.
func contextTable(L *lua.LState, ctx context.Context) *lua.LTable {
	t := L.NewTable()
	if deadline, ok := ctx.Deadline(); ok {
		t.RawSetString("deadline", lua.LNumber(deadline.Unix()))
	}
	return t
}
