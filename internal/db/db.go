// Package db is the persistence gateway for the license server: a thin
// table-level read/upsert/insert layer over SQLite covering accounts, magic
// codes, sessions, subscriptions, and the webhook event ledger.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// MaxOpenConns keeps the connection pool small; SQLite is single-writer.
	MaxOpenConns = 10

	// MaxIdleConns is the idle connection cap.
	MaxIdleConns = 2
)

// DB wraps the license database connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the license database at path. If
// hexKey is non-empty the file is encrypted with SQLCipher using that key.
func Open(path, hexKey string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	dsn := path
	if hexKey != "" {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hexKey)
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open license database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping license database: %w", err)
	}

	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize license schema: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

// NewFromSQL wraps an existing sql.DB. The caller is responsible for having
// applied Schema.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB}
}

// SQL returns the underlying sql.DB for direct access when needed.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}
