// Package sqlite opens the SQLite storage backend. The database lives in
// a single file in the data directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/larder/internal/sqlstore"
)

// DBFile is the database file name inside the data directory.
const DBFile = "larder.db"

// Dialect is the SQLite dialect of the shared SQL storage.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		sqlstore.CreateEntities,
		sqlstore.CreateSequences,
		`CREATE TABLE IF NOT EXISTS larder_identities (
    row_id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL
)`,
	},
}

// Open creates dataDir if needed and opens (or creates) the database in it.
func Open(ctx context.Context, dataDir string) (*sqlstore.Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return OpenFile(ctx, filepath.Join(dataDir, DBFile))
}

// OpenFile opens the database at path.
func OpenFile(ctx context.Context, path string) (*sqlstore.Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
