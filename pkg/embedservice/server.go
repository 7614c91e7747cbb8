// Package embedservice serves Ollama-compatible embedding endpoints over a
// pluggable provider. It is the remote backend that memory stores call.
package embedservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lexlapax/aimemory/pkg/embedapi"
	"github.com/lexlapax/aimemory/pkg/embedding/tfidf"
	"github.com/lexlapax/aimemory/pkg/log"
)

// Version is reported by GET /api/version.
const Version = "0.1.0"

// DefaultModel is served when a request names no model.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	DefaultModel string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes embedding requests to a model cache.
type Server struct {
	router   chi.Router
	cfg      Config
	provider Provider
	models   *ModelCache
}

// New creates a Server for provider.
func New(cfg Config, provider Provider) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":11434"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		models:   NewModelCache(provider),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(embedapi.PathRoot, s.handleStatus)
	r.Get(embedapi.PathVersion, s.handleVersion)
	r.Get(embedapi.PathTags, s.handleTags)
	r.Post(embedapi.PathPull, s.handlePull)
	r.Post(embedapi.PathEmbed, s.handleEmbed)

	s.router = r
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Models returns the server's model cache.
func (s *Server) Models() *ModelCache {
	return s.models
}

// Warm loads the default model into the cache.
func (s *Server) Warm(ctx context.Context) error {
	_, _, err := s.models.Get(ctx, s.cfg.DefaultModel)
	return err
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	log.Info("Embedding service listening",
		"addr", ln.Addr().String(),
		"engine", s.provider.Name(),
		"default_model", s.cfg.DefaultModel)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return <-errCh
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, embedapi.StatusResponse{
		Status:       "running",
		Engine:       s.provider.Name(),
		DefaultModel: s.cfg.DefaultModel,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, embedapi.VersionResponse{Version: Version})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, embedapi.TagsResponse{Models: s.listModels(r.Context())})
}

func (s *Server) listModels(ctx context.Context) []embedapi.Model {
	fallback := []embedapi.Model{s.modelEntry(s.cfg.DefaultModel)}

	if lister, ok := s.provider.(ModelLister); ok {
		models, err := lister.ListModels(ctx)
		if err != nil || len(models) == 0 {
			log.WarnContext(ctx, "Model listing failed, reporting default model",
				"provider", s.provider.Name(),
				"error", err)
			return fallback
		}
		return models
	}

	loaded := s.models.Loaded()
	if len(loaded) == 0 {
		return fallback
	}
	models := make([]embedapi.Model, 0, len(loaded))
	for _, name := range loaded {
		models = append(models, s.modelEntry(name))
	}
	return models
}

func (s *Server) modelEntry(name string) embedapi.Model {
	return embedapi.Model{
		Name:    name,
		Model:   name,
		Details: &embedapi.ModelDetails{Family: s.provider.Name()},
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req embedapi.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if _, _, err := s.models.Get(r.Context(), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, embedapi.PullResponse{Status: embedapi.StatusSuccess})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req embedapi.EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}

	loadStart := time.Now()
	fn, loaded, err := s.models.Get(r.Context(), req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var loadDuration time.Duration
	if loaded {
		loadDuration = time.Since(loadStart)
	}

	embeddings := make([][]float32, 0, len(req.Input))
	tokens := 0
	for _, text := range req.Input {
		vec, err := fn(r.Context(), text)
		if err != nil {
			log.ErrorContext(r.Context(), "Embedding failed",
				"model", req.Model,
				"request_id", middleware.GetReqID(r.Context()),
				"error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		embeddings = append(embeddings, vec)
		tokens += len(tfidf.Tokenize(text))
	}

	writeJSON(w, http.StatusOK, embedapi.EmbedResponse{
		Model:           req.Model,
		Embeddings:      embeddings,
		TotalDuration:   time.Since(start).Nanoseconds(),
		LoadDuration:    loadDuration.Nanoseconds(),
		PromptEvalCount: tokens,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, embedapi.ErrorResponse{Error: msg})
}
