package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Account is a license account, keyed by lowercased email.
type Account struct {
	ID               string
	Email            string
	PaddleCustomerID sql.NullString
	CreatedAt        int64
}

const accountColumns = "id, email, paddle_customer_id, created_at"

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.PaddleCustomerID, &a.CreatedAt)
	return a, err
}

// UpsertAccountByEmail creates the account for email if it does not exist
// and returns the row either way. Idempotent: repeated calls for one email
// never create duplicates and never disturb created_at.
func (d *DB) UpsertAccountByEmail(ctx context.Context, email string, now int64) (Account, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		uuid.NewString(), email, now,
	)
	if err != nil {
		return Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return d.GetAccountByEmail(ctx, email)
}

// GetAccountByEmail returns the account for email, or sql.ErrNoRows.
func (d *DB) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

// GetAccountByID returns the account by primary key, or sql.ErrNoRows.
func (d *DB) GetAccountByID(ctx context.Context, id string) (Account, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByCustomerID returns the account linked to a Paddle customer,
// or sql.ErrNoRows.
func (d *DB) GetAccountByCustomerID(ctx context.Context, customerID string) (Account, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE paddle_customer_id = ?`, customerID)
	return scanAccount(row)
}

// CreateAccount inserts an account with an attached Paddle customer ID and
// returns it. Used for subscription events that arrive before their
// customer event; email may be a synthetic placeholder.
func (d *DB) CreateAccount(ctx context.Context, email, customerID string, now int64) (Account, error) {
	a := Account{
		ID:               uuid.NewString(),
		Email:            email,
		PaddleCustomerID: sql.NullString{String: customerID, Valid: true},
		CreatedAt:        now,
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, paddle_customer_id, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Email, a.PaddleCustomerID, a.CreatedAt,
	)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// UpsertAccountCustomer attaches a Paddle customer ID to the account for
// email, creating the account if needed. Re-entrant-safe: conflicts on
// email resolve to an update of the customer link.
func (d *DB) UpsertAccountCustomer(ctx context.Context, email, customerID string, now int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, paddle_customer_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET paddle_customer_id = excluded.paddle_customer_id`,
		uuid.NewString(), email, customerID, now,
	)
	if err != nil {
		return fmt.Errorf("upsert account customer: %w", err)
	}
	return nil
}

// UpdateAccountCustomer refreshes the email and customer link on an
// existing account. Used when a customer webhook backfills the real email
// onto a placeholder account.
func (d *DB) UpdateAccountCustomer(ctx context.Context, id, email, customerID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, paddle_customer_id = ? WHERE id = ?`,
		email, customerID, id,
	)
	if err != nil {
		return fmt.Errorf("update account customer: %w", err)
	}
	return nil
}
