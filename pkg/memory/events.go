package memory

import "github.com/lexlapax/aimemory/pkg/scope"

// EventKind identifies what changed in a store.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventCleared EventKind = "cleared"
)

// Event is published after a store changes.
type Event struct {
	Kind     EventKind
	StoreID  string
	RecordID string
	Scope    scope.Scope
	Owner    string
	Removed  int
}

// Subscribe returns a channel receiving store events and a function that
// unsubscribes. Delivery never blocks: events are dropped when the
// channel buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

func (m *Manager) publish(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
}
