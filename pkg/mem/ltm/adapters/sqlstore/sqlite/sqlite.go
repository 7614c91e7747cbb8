package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	store_id   TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  TEXT NOT NULL DEFAULT '[]',
	scope      TEXT NOT NULL CHECK (scope IN ('private', 'common')),
	owner      TEXT,
	created_at TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memories_store_created ON memories (store_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_memories_store_scope_owner ON memories (store_id, scope, owner);
`

// memoryRow is the table layout of a record.
type memoryRow struct {
	Seq       int64          `db:"seq"`
	ID        string         `db:"id"`
	StoreID   string         `db:"store_id"`
	Content   string         `db:"content"`
	Embedding string         `db:"embedding"`
	Scope     string         `db:"scope"`
	Owner     sql.NullString `db:"owner"`
	CreatedAt string         `db:"created_at"`
	Metadata  string         `db:"metadata"`
}

// OpenDB opens (creating if needed) the SQLite database at path and applies
// the schema. WAL mode lets readers proceed while a writer holds the lock.
func OpenDB(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create memories table: %w", err)
	}

	log.Debug("Opened SQLite memory database", "path", path)
	return db, nil
}

// SQLiteStore implements ltm.Store on a shared SQLite database.
type SQLiteStore struct {
	db      *sqlx.DB
	storeID string
	ownsDB  bool
}

// NewSQLiteStore creates a store for storeID over db. Close leaves db open.
func NewSQLiteStore(db *sqlx.DB, storeID string) *SQLiteStore {
	return &SQLiteStore{db: db, storeID: storeID}
}

// Open opens the database at path and returns a store that closes it on Close.
func Open(path, storeID string) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteStore(db, storeID)
	s.ownsDB = true
	return s, nil
}

// Insert implements ltm.Store.
func (s *SQLiteStore) Insert(ctx context.Context, record ltm.MemoryRecord) (ltm.MemoryRecord, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.StoreID = s.storeID

	row, err := toRow(record)
	if err != nil {
		return ltm.MemoryRecord{}, err
	}

	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO memories (id, store_id, content, embedding, scope, owner, created_at, metadata)
		VALUES (:id, :store_id, :content, :embedding, :scope, :owner, :created_at, :metadata)`,
		row)
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to store record: %w", err)
	}

	record.Seq, err = res.LastInsertId()
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to read record sequence: %w", err)
	}
	return record, nil
}

// Count implements ltm.Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM memories WHERE store_id = ?`, s.storeID); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// DeleteOldest implements ltm.Store.
func (s *SQLiteStore) DeleteOldest(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldest struct {
		Seq int64  `db:"seq"`
		ID  string `db:"id"`
	}
	err = tx.GetContext(ctx, &oldest,
		`SELECT seq, id FROM memories WHERE store_id = ? ORDER BY created_at ASC, seq ASC LIMIT 1`,
		s.storeID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find oldest record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE seq = ?`, oldest.Seq); err != nil {
		return "", fmt.Errorf("failed to delete oldest record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit eviction: %w", err)
	}
	return oldest.ID, nil
}

// Scan implements ltm.Store.
func (s *SQLiteStore) Scan(ctx context.Context, owner string) ([]ltm.MemoryRecord, error) {
	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, id, store_id, content, embedding, scope, owner, created_at, metadata
		FROM memories
		WHERE store_id = ? AND (scope = ? OR (scope = ? AND owner = ?))
		ORDER BY created_at DESC, seq DESC`,
		s.storeID, scope.Common, scope.Private, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}

	records := make([]ltm.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Clear implements ltm.Store.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE store_id = ?`, s.storeID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements ltm.Store.
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func toRow(r ltm.MemoryRecord) (memoryRow, error) {
	emb, err := ltm.EncodeEmbedding(r.Embedding)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	md, err := json.Marshal(r.Metadata)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return memoryRow{
		ID:        r.ID,
		StoreID:   r.StoreID,
		Content:   r.Content,
		Embedding: emb,
		Scope:     string(r.Scope),
		Owner:     sql.NullString{String: r.Owner, Valid: r.Owner != ""},
		CreatedAt: r.CreatedAt.UTC().Format(timeLayout),
		Metadata:  string(md),
	}, nil
}

func fromRow(row memoryRow) (ltm.MemoryRecord, error) {
	r := ltm.MemoryRecord{
		ID:      row.ID,
		StoreID: row.StoreID,
		Content: row.Content,
		Scope:   scope.Scope(row.Scope),
		Owner:   row.Owner.String,
		Seq:     row.Seq,
	}

	var err error
	r.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to parse created_at of %s: %w", row.ID, err)
	}
	r.Embedding, err = ltm.DecodeEmbedding(row.Embedding)
	if err != nil {
		return ltm.MemoryRecord{}, fmt.Errorf("failed to unmarshal embedding of %s: %w", row.ID, err)
	}
	if row.Metadata != "" && row.Metadata != "null" {
		if err := json.Unmarshal([]byte(row.Metadata), &r.Metadata); err != nil {
			return ltm.MemoryRecord{}, fmt.Errorf("failed to unmarshal metadata of %s: %w", row.ID, err)
		}
	}
	return r, nil
}
