package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/lexlapax/aimemory/pkg/embedservice"
	"github.com/lexlapax/aimemory/pkg/log"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	// A missing .env is normal outside development
	_ = godotenv.Load(*envFile)

	log.Setup(log.Config{
		Level:  log.Level(getenv("LOG_LEVEL", string(log.InfoLevel))),
		Format: log.Format(getenv("LOG_FORMAT", string(log.TextFormat))),
	})

	dims, err := strconv.Atoi(getenv("EMBEDDING_DIMENSIONS", "384"))
	if err != nil {
		log.Error("Invalid EMBEDDING_DIMENSIONS", "error", err)
		os.Exit(1)
	}

	provider, err := embedservice.NewProvider(embedservice.ProviderConfig{
		Engine:        getenv("EMBEDDING_ENGINE", embedservice.ProviderHash),
		Dimensions:    dims,
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OllamaURL:     os.Getenv("OLLAMA_URL"),
	})
	if err != nil {
		log.Error("Failed to create embedding provider", "error", err)
		os.Exit(1)
	}

	srv, err := embedservice.New(embedservice.Config{
		ListenAddr:   ":" + getenv("PORT", "11434"),
		DefaultModel: getenv("MODEL_NAME", embedservice.DefaultModel),
	}, provider)
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		if err := srv.Warm(gctx); err != nil {
			log.Warn("Default model warm-up failed, it will load on first request", "error", err)
		} else {
			log.Info("Default model loaded")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Embedding service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Embedding service stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
