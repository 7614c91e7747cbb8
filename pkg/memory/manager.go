// Package memory implements memory stores: scoped fact storage with
// capacity-bounded eviction and similarity search over embeddings.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
	"github.com/lexlapax/aimemory/pkg/scripting"
)

const (
	// DefaultMaxEntries bounds a store when no limit is configured.
	DefaultMaxEntries = 1000

	// DefaultSearchLimit is the number of results returned by Search.
	DefaultSearchLimit = 5

	// DefaultMinScore is the similarity a result must exceed.
	DefaultMinScore = 0.5
)

// Embedder turns text into vectors. *embedding.Selector implements it.
type Embedder interface {
	Initialize(ctx context.Context) error
	Embed(ctx context.Context, text string) ([]float32, error)
	UpdateVocabulary(ctx context.Context, text string) error
	EngineName() string
	Close() error
}

// Config contains configuration options for a Manager.
type Config struct {
	// ID is the store id used as the persistence namespace and registry key
	ID string

	// Name is a display name; defaults to ID
	Name string

	// Description is included in the LLM context block when set
	Description string

	// MaxEntries bounds the number of stored records
	MaxEntries int

	// SearchLimit is the default result count for Search
	SearchLimit int

	// MinScore is the default similarity threshold for Search. Results
	// must score strictly above it.
	MinScore float64
}

// DefaultConfig returns the default configuration for a store named id.
func DefaultConfig(id string) Config {
	return Config{
		ID:          id,
		Name:        id,
		MaxEntries:  DefaultMaxEntries,
		SearchLimit: DefaultSearchLimit,
		MinScore:    DefaultMinScore,
	}
}

// Entry is a stored fact as returned by GetAll. Embeddings are not exposed.
type Entry struct {
	ID        string
	Content   string
	Scope     scope.Scope
	Owner     string
	CreatedAt time.Time
	Metadata  map[string]interface{}
}

// Info summarizes a Manager for listings.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
	MaxEntries  int    `json:"max_entries"`
	Engine      string `json:"engine"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks enables the before_add and filter_result Lua hooks.
func WithHooks(engine scripting.Engine) Option {
	return func(m *Manager) {
		m.hooks = engine
	}
}

// Manager is a single memory store.
type Manager struct {
	cfg      Config
	store    ltm.Store
	embedder Embedder
	hooks    scripting.Engine

	// mu serializes count, evict and insert
	mu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]chan Event
	nextSub     int
}

// NewManager creates a Manager over store, vectorizing with embedder.
func NewManager(cfg Config, store ltm.Store, embedder Embedder, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.NewValidationError("id", "must not be empty")
	}
	if store == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "memory %s: nil store", cfg.ID)
	}
	if embedder == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "memory %s: nil embedder", cfg.ID)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}

	m := &Manager{
		cfg:         cfg,
		store:       store,
		embedder:    embedder,
		subscribers: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}

	log.Debug("Memory store created",
		"memory_id", cfg.ID,
		"max_entries", cfg.MaxEntries,
		"min_score", cfg.MinScore,
		"hooks", m.hooks != nil)
	return m, nil
}

// ID returns the store id.
func (m *Manager) ID() string { return m.cfg.ID }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Initialize constructs the embedding backend ahead of the first call.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.embedder.Initialize(ctx)
}

// EngineName is the active embedding engine, or "" before initialization.
func (m *Manager) EngineName() string {
	return m.embedder.EngineName()
}

// Add stores a fact and returns its id. Whitespace-only content is
// ignored and returns an empty id with no error. A failed embedding is
// logged and the fact is stored without a vector.
func (m *Manager) Add(ctx context.Context, content string, sc scope.Scope, owner string) (string, error) {
	logger := log.WithOwner(log.FromContext(ctx), m.cfg.ID, owner)

	content = strings.TrimSpace(content)
	if content == "" {
		logger.Debug("Ignoring empty memory content")
		return "", nil
	}
	if !sc.Valid() {
		return "", errors.NewValidationError("scope", "must be one of %s, %s (got %q)", scope.Private, scope.Common, string(sc))
	}
	owner = strings.TrimSpace(owner)
	if sc == scope.Private && owner == "" {
		return "", errors.NewValidationError("owner", "required for private scope")
	}
	if sc == scope.Common {
		owner = ""
	}

	content, keep := m.beforeAdd(ctx, content, sc, owner)
	if !keep {
		logger.Debug("Memory rejected by before_add hook")
		return "", nil
	}

	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		if errors.Is(err, errors.ErrBackendInitialization) {
			return "", err
		}
		logger.Warn("Failed to embed memory, storing without vector", "error", err)
		vec = nil
	}

	now := time.Now().UTC()
	record := ltm.MemoryRecord{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: vec,
		Scope:     sc,
		Owner:     owner,
		CreatedAt: now,
		Metadata:  ltm.NewMetadata(sc, owner, now),
	}

	stored, err := m.insert(ctx, record)
	if err != nil {
		logger.Error("Failed to store memory", "error", err)
		return "", err
	}

	if err := m.embedder.UpdateVocabulary(ctx, content); err != nil {
		logger.Warn("Failed to update vocabulary", "error", err)
	}

	logger.Info("Memory added", "id", stored.ID, "scope", string(sc), "embedded", len(vec) > 0)
	m.publish(Event{Kind: EventAdded, StoreID: m.cfg.ID, RecordID: stored.ID, Scope: sc, Owner: owner})
	return stored.ID, nil
}

// insert evicts the oldest records until there is room, then inserts.
func (m *Manager) insert(ctx context.Context, record ltm.MemoryRecord) (ltm.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.store.Count(ctx)
	if err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(errors.Mark(err, errors.ErrPersistence), "count memories")
	}

	for ; count >= m.cfg.MaxEntries; count-- {
		id, err := m.store.DeleteOldest(ctx)
		if err != nil {
			return ltm.MemoryRecord{}, errors.Wrap(errors.Mark(err, errors.ErrPersistence), "evict oldest memory")
		}
		if id == "" {
			break
		}
		log.DebugContext(ctx, "Evicted oldest memory", "memory_id", m.cfg.ID, "id", id)
	}

	stored, err := m.store.Insert(ctx, record)
	if err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(errors.Mark(err, errors.ErrPersistence), "insert memory")
	}
	return stored, nil
}

// Clear deletes every record. The embedding vocabulary is kept.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	m.mu.Lock()
	n, err := m.store.Clear(ctx)
	m.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(errors.Mark(err, errors.ErrPersistence), "clear memories")
	}

	log.InfoContext(ctx, "Memory cleared", "memory_id", m.cfg.ID, "removed", n)
	m.publish(Event{Kind: EventCleared, StoreID: m.cfg.ID, Removed: n})
	return n, nil
}

// GetAll returns the entries visible to owner, newest first. Read
// failures are logged and yield an empty result.
func (m *Manager) GetAll(ctx context.Context, owner string) ([]Entry, error) {
	records := m.scan(ctx, owner)
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, Entry{
			ID:        r.ID,
			Content:   r.Content,
			Scope:     r.Scope,
			Owner:     r.Owner,
			CreatedAt: r.CreatedAt,
			Metadata:  ltm.NewMetadata(r.Scope, r.Owner, r.CreatedAt),
		})
	}
	return entries, nil
}

func (m *Manager) scan(ctx context.Context, owner string) []ltm.MemoryRecord {
	records, err := m.store.Scan(ctx, strings.TrimSpace(owner))
	if err != nil {
		log.WarnContext(ctx, "Failed to read memories",
			"memory_id", m.cfg.ID,
			"error", errors.Mark(err, errors.ErrPersistence))
		return nil
	}
	return records
}

// Count returns the number of stored records, or 0 when the store cannot be read.
func (m *Manager) Count(ctx context.Context) int {
	n, err := m.store.Count(ctx)
	if err != nil {
		log.WarnContext(ctx, "Failed to count memories", "memory_id", m.cfg.ID, "error", err)
		return 0
	}
	return n
}

// Info summarizes the store.
func (m *Manager) Info(ctx context.Context) Info {
	return Info{
		ID:          m.cfg.ID,
		Name:        m.cfg.Name,
		Description: m.cfg.Description,
		Count:       m.Count(ctx),
		MaxEntries:  m.cfg.MaxEntries,
		Engine:      m.EngineName(),
	}
}

// Close closes subscriptions, the embedder and the store.
func (m *Manager) Close() error {
	m.closeSubscribers()
	return errors.Join(m.embedder.Close(), m.store.Close())
}
