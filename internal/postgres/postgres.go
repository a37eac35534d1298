// Package postgres opens the Postgres storage backend through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mesh-intelligence/larder/internal/sqlstore"
)

const driverName = "pgx"

// ErrDSNEmpty is returned by Open without a connection string.
var ErrDSNEmpty = errors.New("postgres dsn is empty")

// Dialect is the Postgres dialect of the shared SQL storage.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		sqlstore.CreateEntities,
		sqlstore.CreateSequences,
		`CREATE TABLE IF NOT EXISTS larder_identities (
    row_id BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL
)`,
	},
}

// Open connects to dsn, checks the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, ErrDSNEmpty
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
