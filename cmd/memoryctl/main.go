package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/aimemory/pkg/aimemory"
	"github.com/lexlapax/aimemory/pkg/config"
	"github.com/lexlapax/aimemory/pkg/log"
)

// historyFile is the file where command history is stored
const historyFile = ".aimemory_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	memoryID := flag.String("memory", "", "Memory store to start in (default: first configured)")
	owner := flag.String("owner", "default-agent", "Owner id used for private memories")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log.Setup(cfg.Logging)

	ctx := context.Background()
	registry, err := aimemory.New(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize memory stores", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	s, err := newSession(registry, cfg, os.Stdout, *memoryID, *owner)
	if err != nil {
		log.Error("Failed to select memory store", "error", err)
		os.Exit(1)
	}
	defer s.close()

	if *stdinMode {
		runStdin(ctx, s, os.Stdin)
		return
	}
	runInteractive(ctx, s)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := config.Finalize(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadFromFile(path)
}

func printBanner(s *session) {
	fmt.Fprintln(s.out, "\n=== aimemory ===")
	fmt.Fprintln(s.out, "Storage:", s.cfg.Storage.Backend)
	fmt.Fprintln(s.out, "Embedding:", s.cfg.Embedding.Engine)
	fmt.Fprintf(s.out, "Memories: %d | Current Memory: %s | Owner: %s\n",
		len(s.registry.List()), s.manager.ID(), s.owner)
}

// runStdin processes one command per line, skipping comments, until EOF
// or !quit.
func runStdin(ctx context.Context, s *session, in io.Reader) {
	scanner := bufio.NewScanner(in)

	printBanner(s)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
			continue
		}

		fmt.Fprint(s.out, s.prompt(), input, "\n")
		if !s.handle(ctx, input) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(s.out, "Error reading stdin: %v\n", err)
	}
	fmt.Fprintln(s.out, "Goodbye!")
}

func runInteractive(ctx context.Context, s *session) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)
	line.SetCompleter(func(line string) (c []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	printBanner(s)
	fmt.Fprintln(s.out, "Type !help for available commands.")

	for {
		input, err := line.Prompt(s.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !s.handle(ctx, input) {
			fmt.Fprintln(s.out, "Goodbye!")
			return
		}
	}
}
