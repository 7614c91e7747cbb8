package memory

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/aimemory/pkg/errors"
)

// Registry holds the memory stores of an application, keyed by id.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	order    []string
	closers  []io.Closer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Register adds m. Ids must be unique.
func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if _, exists := r.managers[id]; exists {
		return errors.Wrap(errors.ErrConflict, "memory %q", id)
	}
	r.managers[id] = m
	r.order = append(r.order, id)
	return nil
}

// AddCloser registers a resource shared by the stores, such as a database
// handle, to be closed after every manager.
func (r *Registry) AddCloser(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Get returns the store with the given id.
func (r *Registry) Get(id string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.managers[id]
	if !ok {
		available := append([]string(nil), r.order...)
		sort.Strings(available)
		return nil, errors.Wrap(errors.ErrNotFound, "memory %q (available: %s)", id, strings.Join(available, ", "))
	}
	return m, nil
}

// Default returns the first registered store, or nil when empty.
func (r *Registry) Default() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	return r.managers[r.order[0]]
}

// List returns the stores in registration order.
func (r *Registry) List() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Manager, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.managers[id])
	}
	return list
}

// Infos summarizes every store.
func (r *Registry) Infos(ctx context.Context) []Info {
	managers := r.List()
	infos := make([]Info, 0, len(managers))
	for _, m := range managers {
		infos = append(infos, m.Info(ctx))
	}
	return infos
}

// Contexts joins the non-empty LLM context blocks of every store.
func (r *Registry) Contexts(ctx context.Context, owner string) string {
	var blocks []string
	for _, m := range r.List() {
		if block := m.Context(ctx, owner); block != "" {
			blocks = append(blocks, block)
		}
	}
	if len(blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# AVAILABLE LONG-TERM MEMORIES\n")
	b.WriteString("You have access to these persistent memories from past conversations:\n\n")
	b.WriteString(strings.Join(blocks, "\n---\n\n"))
	return b.String()
}

// Close closes every store and then the shared resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, id := range r.order {
		if err := r.managers[id].Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close memory %q", id))
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.managers = make(map[string]*Manager)
	r.order = nil
	r.closers = nil
	return errors.Join(errs...)
}
