package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
)

var storesBucket = []byte("stores")

// OpenDB opens the BoltDB file at path, creating parent directories.
func OpenDB(path string) (*bolt.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}
	return db, nil
}

// BoltStore implements ltm.Store with one nested bucket per memory store.
// Keys are the big-endian insert sequence so cursor order is insert order.
type BoltStore struct {
	db      *bolt.DB
	storeID string
	ownsDB  bool
}

// NewBoltStore creates a store for storeID over db. Close leaves db open.
func NewBoltStore(db *bolt.DB, storeID string) *BoltStore {
	log.Debug("Initialized BoltDB store adapter",
		"db_path", db.Path(),
		"memory_id", storeID)
	return &BoltStore{db: db, storeID: storeID}
}

// Open opens the file at path and returns a store that closes it on Close.
func Open(path, storeID string) (*BoltStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s := NewBoltStore(db, storeID)
	s.ownsDB = true
	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the buckets for this store if they don't exist.
func (b *BoltStore) Initialize(ctx context.Context) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := b.storeBucket(tx)
		return err
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB buckets", "error", err)
	}
	return err
}

func (b *BoltStore) storeBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	stores, err := tx.CreateBucketIfNotExists(storesBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores bucket: %w", err)
	}
	bucket, err := stores.CreateBucketIfNotExists([]byte(b.storeID))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket for %s: %w", b.storeID, err)
	}
	return bucket, nil
}

// readBucket returns nil when the store has never been written.
func (b *BoltStore) readBucket(tx *bolt.Tx) *bolt.Bucket {
	stores := tx.Bucket(storesBucket)
	if stores == nil {
		return nil
	}
	return stores.Bucket([]byte(b.storeID))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Insert implements ltm.Store.
func (b *BoltStore) Insert(ctx context.Context, record ltm.MemoryRecord) (ltm.MemoryRecord, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.StoreID = b.storeID

	if !record.Scope.Valid() {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to store record: unknown scope %q", record.Scope)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := b.storeBucket(tx)
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		record.Seq = int64(seq)

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return bucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to store record: %w", err)
	}
	return record, nil
}

// Count implements ltm.Store.
func (b *BoltStore) Count(ctx context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := b.readBucket(tx)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// DeleteOldest implements ltm.Store.
func (b *BoltStore) DeleteOldest(ctx context.Context) (string, error) {
	var deleted string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := b.readBucket(tx)
		if bucket == nil {
			return nil
		}

		var oldest *ltm.MemoryRecord
		var oldestKey []byte
		err := bucket.ForEach(func(k, v []byte) error {
			var r ltm.MemoryRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if oldest == nil || ltm.Older(r, *oldest) {
				oldest = &r
				oldestKey = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil || oldest == nil {
			return err
		}

		deleted = oldest.ID
		return bucket.Delete(oldestKey)
	})
	if err != nil {
		return "", fmt.Errorf("failed to delete oldest record: %w", err)
	}
	return deleted, nil
}

// Scan implements ltm.Store.
func (b *BoltStore) Scan(ctx context.Context, owner string) ([]ltm.MemoryRecord, error) {
	var records []ltm.MemoryRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := b.readBucket(tx)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r ltm.MemoryRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if scope.Visible(r.Scope, r.Owner, owner) {
				records = append(records, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return ltm.Older(records[j], records[i])
	})
	return records, nil
}

// Clear implements ltm.Store. The bucket sequence is kept so Seq stays monotonic.
func (b *BoltStore) Clear(ctx context.Context) (int, error) {
	var n int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := b.readBucket(tx)
		if bucket == nil {
			return nil
		}
		var keys [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	return n, nil
}

// Close implements ltm.Store.
func (b *BoltStore) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
