package db

import (
	"database/sql"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver registration.
	SQLiteDriverName = "sqlite3_ctrlv_license"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Sessions and subscriptions reference accounts; enforce it.
			_, err := conn.Exec("PRAGMA foreign_keys = ON", nil)
			return err
		},
	})
}

// isUniqueViolation reports whether err is a SQLite unique/primary-key
// constraint failure. The webhook idempotency gate depends on this: the
// unique constraint on webhook_events.event_id is the only serialization
// point in the system, so the duplicate-key error must be distinguishable
// from other failures.
func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	if !ok {
		return false
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return true
	default:
		return false
	}
}
