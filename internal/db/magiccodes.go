package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MagicCode is a one-time login code row. The plaintext code never touches
// the database; only its peppered hash is stored.
type MagicCode struct {
	ID         int64
	Email      string
	CodeHash   string
	ExpiresAt  int64
	CreatedAt  int64
	ConsumedAt sql.NullInt64
}

// InsertMagicCode records a freshly issued code hash.
func (d *DB) InsertMagicCode(ctx context.Context, email, codeHash string, expiresAt, createdAt int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO magic_codes (email, code_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		email, codeHash, expiresAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert magic code: %w", err)
	}
	return nil
}

// LatestValidMagicCode returns the single most recent unconsumed, unexpired
// code for email. Expiry is strict: a code whose expires_at equals now is
// already invisible. Ties on created_at break by row id descending so the
// selection is deterministic.
func (d *DB) LatestValidMagicCode(ctx context.Context, email string, now int64) (MagicCode, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, email, code_hash, expires_at, created_at, consumed_at
		 FROM magic_codes
		 WHERE email = ? AND consumed_at IS NULL AND expires_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		email, now,
	)
	var m MagicCode
	err := row.Scan(&m.ID, &m.Email, &m.CodeHash, &m.ExpiresAt, &m.CreatedAt, &m.ConsumedAt)
	return m, err
}

// ConsumeMagicCode marks a code as redeemed. A consumed code is permanently
// invalid; there is no un-consume.
func (d *DB) ConsumeMagicCode(ctx context.Context, id, now int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE magic_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("consume magic code: %w", err)
	}
	return nil
}

// DeleteExpiredMagicCodes removes codes past their expiry. Called by the
// periodic cleanup loop; consumed-but-unexpired rows are left alone.
func (d *DB) DeleteExpiredMagicCodes(ctx context.Context, now int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM magic_codes WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic codes: %w", err)
	}
	return res.RowsAffected()
}
