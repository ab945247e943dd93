// Package testdb provides in-memory database constructors for package tests.
package testdb

import (
	"database/sql"
	"fmt"

	"github.com/ctrlv-app/license-server/internal/db"
)

// NewInMemory creates an in-memory license DB with the schema applied.
func NewInMemory() (*db.DB, error) {
	sqlDB, err := sql.Open(db.SQLiteDriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory license database: %w", err)
	}

	// A single connection keeps every statement on the same in-memory DB.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping in-memory license database: %w", err)
	}

	if _, err := sqlDB.Exec(db.Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize in-memory schema: %w", err)
	}

	return db.NewFromSQL(sqlDB), nil
}
