package db

import (
	"context"
	"fmt"
)

// Session is a bearer session row; token_hash is the peppered hash of the
// opaque token, which the server transmits exactly once at mint time.
type Session struct {
	ID        int64
	AccountID string
	TokenHash string
	ExpiresAt int64
	CreatedAt int64
}

// InsertSession records a freshly minted session.
func (d *DB) InsertSession(ctx context.Context, accountID, tokenHash string, expiresAt, createdAt int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (account_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		accountID, tokenHash, expiresAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetValidSession returns the unexpired session matching tokenHash, or
// sql.ErrNoRows. Expired sessions are invisible to this lookup (strict >),
// not merely rejected afterward.
func (d *DB) GetValidSession(ctx context.Context, tokenHash string, now int64) (Session, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, expires_at, created_at
		 FROM sessions
		 WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, now,
	)
	var s Session
	err := row.Scan(&s.ID, &s.AccountID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

// DeleteExpiredSessions removes sessions past their absolute expiry.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
