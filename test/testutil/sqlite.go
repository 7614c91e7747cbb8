package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/mem/ltm/adapters/sqlstore/sqlite"
)

// CreateTempSQLiteDB opens a schema-ready SQLite database in a temp dir.
// It returns the handle, the file path, and a cleanup function.
func CreateTempSQLiteDB(t *testing.T) (*sqlx.DB, string, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memories.db")

	db, err := sqlite.OpenDB(dbPath)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return db, dbPath, cleanup
}
