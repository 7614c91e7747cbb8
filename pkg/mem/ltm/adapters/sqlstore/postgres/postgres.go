package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// OpenPool migrates the database at dsn and returns a connection pool.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore implements ltm.Store using a PostgreSQL database.
type PostgresStore struct {
	pool    *pgxpool.Pool
	storeID string
}

// NewPostgresStore creates a store for storeID over pool. Close leaves the pool open.
func NewPostgresStore(pool *pgxpool.Pool, storeID string) *PostgresStore {
	return &PostgresStore{pool: pool, storeID: storeID}
}

// Insert implements ltm.Store.
func (p *PostgresStore) Insert(ctx context.Context, record ltm.MemoryRecord) (ltm.MemoryRecord, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.StoreID = p.storeID

	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	embedding := record.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	var owner *string
	if record.Owner != "" {
		owner = &record.Owner
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO memories (id, store_id, content, embedding, scope, owner, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		record.ID, record.StoreID, record.Content, embedding, string(record.Scope), owner, record.CreatedAt, metadataJSON,
	).Scan(&record.Seq)
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to store record: %w", err)
	}
	return record, nil
}

// Count implements ltm.Store.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE store_id = $1`, p.storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// DeleteOldest implements ltm.Store.
func (p *PostgresStore) DeleteOldest(ctx context.Context) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx,
		`DELETE FROM memories
		WHERE seq = (
			SELECT seq FROM memories WHERE store_id = $1
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
		)
		RETURNING id`,
		p.storeID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete oldest record: %w", err)
	}
	return id, nil
}

// Scan implements ltm.Store.
func (p *PostgresStore) Scan(ctx context.Context, owner string) ([]ltm.MemoryRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT seq, id, store_id, content, embedding, scope, owner, created_at, metadata
		FROM memories
		WHERE store_id = $1 AND (scope = $2 OR (scope = $3 AND owner = $4))
		ORDER BY created_at DESC, seq DESC`,
		p.storeID, string(scope.Common), string(scope.Private), owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}
	defer rows.Close()

	var records []ltm.MemoryRecord
	for rows.Next() {
		var (
			r            ltm.MemoryRecord
			sc           string
			recordOwner  *string
			metadataJSON []byte
		)
		err := rows.Scan(&r.Seq, &r.ID, &r.StoreID, &r.Content, &r.Embedding, &sc, &recordOwner, &r.CreatedAt, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Scope = scope.Scope(sc)
		if recordOwner != nil {
			r.Owner = *recordOwner
		}
		r.CreatedAt = r.CreatedAt.UTC()
		if len(r.Embedding) == 0 {
			r.Embedding = nil
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return records, nil
}

// Clear implements ltm.Store.
func (p *PostgresStore) Clear(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM memories WHERE store_id = $1`, p.storeID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close implements ltm.Store. The pool is shared and closed by its owner.
func (p *PostgresStore) Close() error {
	return nil
}
