package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/memory"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdOwner    = "!owner"
	cmdMemory   = "!memory"
	cmdRemember = "!remember"
	cmdShare    = "!share"
	cmdSearch   = "!search"
	cmdList     = "!list"
	cmdClear    = "!clear"
	cmdMemories = "!memories"
	cmdContext  = "!context"
	cmdEngine   = "!engine"
	cmdConfig   = "!config"
)

var commands = []string{
	cmdHelp, cmdQuit, cmdOwner, cmdMemory, cmdRemember, cmdShare, cmdSearch,
	cmdList, cmdClear, cmdMemories, cmdContext, cmdEngine, cmdConfig,
}

// Command-line help text
const helpText = `
aimemory - Command Reference:
-----------------------------
!help                 - Show this help message
!owner <id>           - Set the current owner (agent) id
!memory <id>          - Switch to another memory store
!remember <text>      - Save a private memory for the current owner
!share <text>         - Save a memory visible to every owner
!search <query>       - Search memories visible to the current owner
!list                 - List memories visible to the current owner
!clear                - Delete every entry in the current memory
!memories             - List configured memory stores
!context              - Print the LLM context block for the current owner
!engine               - Show the active embedding engine
!config               - Show current configuration
!quit                 - Exit the application

Notes:
- Regular text input is treated as a search
- Tab completion is available for commands
- Use up/down arrows for command history`

// session holds the REPL state for one run.
type session struct {
	registry *memory.Registry
	cfg      *config.Config
	out      io.Writer

	owner   string
	manager *memory.Manager
	events  <-chan memory.Event
	unsubFn func()
}

func newSession(registry *memory.Registry, cfg *config.Config, out io.Writer, memoryID, owner string) (*session, error) {
	s := &session{registry: registry, cfg: cfg, out: out, owner: owner}
	if err := s.switchMemory(memoryID); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) prompt() string {
	return fmt.Sprintf("aimemory::%s@%s> ", s.owner, s.manager.ID())
}

func (s *session) switchMemory(id string) error {
	var m *memory.Manager
	if id == "" {
		m = s.registry.Default()
		if m == nil {
			return fmt.Errorf("no memory stores configured")
		}
	} else {
		var err error
		if m, err = s.registry.Get(id); err != nil {
			return err
		}
	}

	if s.unsubFn != nil {
		s.unsubFn()
	}
	s.manager = m
	s.events, s.unsubFn = m.Subscribe(16)
	return nil
}

func (s *session) close() {
	if s.unsubFn != nil {
		s.unsubFn()
	}
}

// drainEvents prints pending change notifications from the active memory.
func (s *session) drainEvents() {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			switch ev.Kind {
			case memory.EventAdded:
				fmt.Fprintf(s.out, "(memory updated: %s added %s entry)\n", ev.StoreID, ev.Scope)
			case memory.EventCleared:
				fmt.Fprintf(s.out, "(memory updated: %s cleared, %d removed)\n", ev.StoreID, ev.Removed)
			}
		default:
			return
		}
	}
}

// handle runs one input line and returns false when the CLI should exit.
func (s *session) handle(ctx context.Context, input string) bool {
	defer s.drainEvents()

	if !strings.HasPrefix(input, "!") {
		s.search(ctx, input)
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Fprintln(s.out, helpText)

	case cmdQuit:
		return false

	case cmdOwner:
		if arg == "" {
			fmt.Fprintf(s.out, "Current owner: %s\n", s.owner)
			break
		}
		s.owner = arg
		fmt.Fprintf(s.out, "Owner set to: %s\n", s.owner)

	case cmdMemory:
		if arg == "" {
			fmt.Fprintf(s.out, "Current memory: %s\n", s.manager.ID())
			break
		}
		if err := s.switchMemory(arg); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(s.out, "Memory set to: %s\n", s.manager.ID())

	case cmdRemember:
		s.add(ctx, arg, scope.Private)

	case cmdShare:
		s.add(ctx, arg, scope.Common)

	case cmdSearch:
		if arg == "" {
			fmt.Fprintln(s.out, "Search query required")
			break
		}
		s.search(ctx, arg)

	case cmdList:
		entries, err := s.manager.GetAll(ctx, s.owner)
		if err != nil {
			fmt.Fprintf(s.out, "Error listing memories: %v\n", err)
			break
		}
		if len(entries) == 0 {
			fmt.Fprintln(s.out, "No memories stored.")
			break
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "- [%s] %s (Scope: %s)\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Content, e.Scope)
		}

	case cmdClear:
		n, err := s.manager.Clear(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Error clearing memory: %v\n", err)
			break
		}
		fmt.Fprintf(s.out, "Cleared %d entries from %s.\n", n, s.manager.ID())

	case cmdMemories:
		for _, info := range s.registry.Infos(ctx) {
			marker := " "
			if info.ID == s.manager.ID() {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %s (%s): %d/%d entries, engine %s\n",
				marker, info.ID, info.Name, info.Count, info.MaxEntries, info.Engine)
		}

	case cmdContext:
		block := s.manager.Context(ctx, s.owner)
		if block == "" {
			fmt.Fprintln(s.out, "No memories stored.")
			break
		}
		fmt.Fprintln(s.out, block)

	case cmdEngine:
		engine := s.manager.EngineName()
		if engine == "" {
			engine = "not initialized"
		}
		fmt.Fprintf(s.out, "Embedding engine: %s (requested %s)\n", engine, s.cfg.Embedding.Engine)

	case cmdConfig:
		s.printConfig()

	default:
		fmt.Fprintf(s.out, "Unknown command: %s\nType !help for available commands.\n", cmd)
	}
	return true
}

func (s *session) add(ctx context.Context, content string, sc scope.Scope) {
	id, err := s.manager.Add(ctx, content, sc, s.owner)
	if err != nil {
		fmt.Fprintf(s.out, "Error storing memory: %v\n", err)
		return
	}
	if id == "" {
		fmt.Fprintln(s.out, "Nothing to save.")
		return
	}
	fmt.Fprintf(s.out, "Saved to %s memory (%s).\n", sc, id)
}

func (s *session) search(ctx context.Context, query string) {
	results, err := s.manager.Search(ctx, query, s.owner)
	if err != nil {
		fmt.Fprintf(s.out, "Error searching memories: %v\n", err)
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(s.out, "No matching memories found.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(s.out, "- %.3f %s (Scope: %v)\n", r.Score, r.Content, r.Metadata["scope"])
	}
}

func (s *session) printConfig() {
	fmt.Fprintln(s.out, "\nCurrent Configuration:")
	fmt.Fprintln(s.out, "======================")
	fmt.Fprintf(s.out, "Storage Backend: %s\n", s.cfg.Storage.Backend)
	switch s.cfg.Storage.Backend {
	case config.BackendSQLite, config.BackendBoltDB:
		fmt.Fprintf(s.out, "Storage Path: %s\n", s.cfg.Storage.Path)
	case config.BackendPostgres:
		fmt.Fprintln(s.out, "Storage DSN: (set)")
	}

	fmt.Fprintf(s.out, "\nEmbedding Engine: %s (fallback %v)\n", s.cfg.Embedding.Engine, s.cfg.Embedding.Fallback)
	fmt.Fprintf(s.out, "Vocabulary Path: %s\n", s.cfg.Embedding.VocabularyPath)
	fmt.Fprintf(s.out, "Remote URL: %s (model %s)\n", s.cfg.Embedding.Remote.URL, s.cfg.Embedding.Remote.Model)

	fmt.Fprintf(s.out, "\nSearch Limit: %d\n", s.cfg.Retrieval.Limit)
	fmt.Fprintf(s.out, "Min Score: %.2f\n", s.cfg.Retrieval.MinScore)
	fmt.Fprintf(s.out, "Scripting Enabled: %v\n", s.cfg.Scripting.Enabled)

	fmt.Fprintf(s.out, "\nLog Level: %s\n", s.cfg.Logging.Level)
	fmt.Fprintf(s.out, "Memory: %s\n", s.manager.ID())
	fmt.Fprintf(s.out, "Owner: %s\n", s.owner)
}
