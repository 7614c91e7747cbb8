package ltm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lexlapax/aimemory/pkg/scope"
)

// MetadataType is the type tag stored in every record's metadata.
const MetadataType = "memory"

// MemoryRecord represents a single remembered fact. Records are written
// once and never updated in place.
type MemoryRecord struct {
	// ID is a unique identifier generated at insert time
	ID string `json:"id"`

	// StoreID is the memory store the record belongs to
	StoreID string `json:"store_id"`

	// Content is the fact text
	Content string `json:"content"`

	// Embedding is the vector for similarity search; empty when embedding failed
	Embedding []float32 `json:"embedding,omitempty"`

	// Scope determines who can see the record
	Scope scope.Scope `json:"scope"`

	// Owner is the agent a private record belongs to; empty for common records
	Owner string `json:"owner,omitempty"`

	// CreatedAt is when the record was stored
	CreatedAt time.Time `json:"created_at"`

	// Seq is a monotonic insert counter assigned by the store
	Seq int64 `json:"seq"`

	// Metadata repeats scope, owner and created_at for callers
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewMetadata builds the metadata map stored alongside a record.
func NewMetadata(sc scope.Scope, owner string, createdAt time.Time) map[string]interface{} {
	md := map[string]interface{}{
		"type":       MetadataType,
		"scope":      string(sc),
		"created_at": createdAt.UTC().Format(time.RFC3339Nano),
	}
	if owner != "" {
		md["owner"] = owner
	} else {
		md["owner"] = nil
	}
	return md
}

// Older reports whether a was stored before b, using Seq to order equal timestamps.
func Older(a, b MemoryRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// EncodeEmbedding serializes a vector for text columns.
func EncodeEmbedding(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeEmbedding parses a vector written by EncodeEmbedding.
func DecodeEmbedding(s string) ([]float32, error) {
	if s == "" || s == "[]" || s == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Store is the interface that all memory persistence adapters must implement.
// Every method is scoped to the store's namespace.
type Store interface {
	// Insert persists a record and returns it with Seq assigned.
	Insert(ctx context.Context, record MemoryRecord) (MemoryRecord, error)

	// Count returns the number of records in the namespace.
	Count(ctx context.Context) (int, error)

	// DeleteOldest removes the record with the smallest (CreatedAt, Seq) and
	// returns its id, or "" when the namespace is empty.
	DeleteOldest(ctx context.Context) (string, error)

	// Scan returns records visible to owner (common, plus private records
	// owned by owner), newest first.
	Scan(ctx context.Context, owner string) ([]MemoryRecord, error)

	// Clear removes every record in the namespace and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
