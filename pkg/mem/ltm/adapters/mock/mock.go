package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// MockStore is an in-memory implementation of ltm.Store used for testing
// and for ephemeral memories that need no persistence.
type MockStore struct {
	storeID string

	mutex   sync.RWMutex
	records map[string]ltm.MemoryRecord
	seq     int64
	closed  bool

	// failWrites makes Insert, DeleteOldest and Clear fail
	failWrites bool
	// failReads makes Count and Scan fail
	failReads bool
}

// NewMockStore creates an empty in-memory store for storeID.
func NewMockStore(storeID string) *MockStore {
	log.Debug("Initialized in-memory store adapter", "memory_id", storeID)
	return &MockStore{
		storeID: storeID,
		records: make(map[string]ltm.MemoryRecord),
	}
}

// SetFailures toggles injected read and write failures.
func (m *MockStore) SetFailures(reads, writes bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failReads = reads
	m.failWrites = writes
}

// Insert implements ltm.Store.
func (m *MockStore) Insert(ctx context.Context, record ltm.MemoryRecord) (ltm.MemoryRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(m.failWrites); err != nil {
		return ltm.MemoryRecord{}, err
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if _, exists := m.records[record.ID]; exists {
		return ltm.MemoryRecord{}, fmt.Errorf("record %s already exists", record.ID)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.StoreID = m.storeID
	m.seq++
	record.Seq = m.seq

	m.records[record.ID] = cloneRecord(record)
	return record, nil
}

// Count implements ltm.Store.
func (m *MockStore) Count(ctx context.Context) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := m.check(m.failReads); err != nil {
		return 0, err
	}
	return len(m.records), nil
}

// DeleteOldest implements ltm.Store.
func (m *MockStore) DeleteOldest(ctx context.Context) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(m.failWrites); err != nil {
		return "", err
	}

	var oldest *ltm.MemoryRecord
	for _, r := range m.records {
		r := r
		if oldest == nil || ltm.Older(r, *oldest) {
			oldest = &r
		}
	}
	if oldest == nil {
		return "", nil
	}
	delete(m.records, oldest.ID)
	return oldest.ID, nil
}

// Scan implements ltm.Store.
func (m *MockStore) Scan(ctx context.Context, owner string) ([]ltm.MemoryRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := m.check(m.failReads); err != nil {
		return nil, err
	}

	var out []ltm.MemoryRecord
	for _, r := range m.records {
		if scope.Visible(r.Scope, r.Owner, owner) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ltm.Older(out[j], out[i])
	})
	return out, nil
}

// Clear implements ltm.Store.
func (m *MockStore) Clear(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(m.failWrites); err != nil {
		return 0, err
	}
	n := len(m.records)
	m.records = make(map[string]ltm.MemoryRecord)
	return n, nil
}

// Close implements ltm.Store.
func (m *MockStore) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

func (m *MockStore) check(fail bool) error {
	if m.closed {
		return fmt.Errorf("store %s is closed", m.storeID)
	}
	if fail {
		return fmt.Errorf("injected failure in store %s", m.storeID)
	}
	return nil
}

func cloneRecord(r ltm.MemoryRecord) ltm.MemoryRecord {
	if r.Embedding != nil {
		r.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Metadata != nil {
		md := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}
