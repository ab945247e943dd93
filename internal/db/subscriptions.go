package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Subscription mirrors the authoritative billing record for an account,
// upserted from Paddle webhooks. raw_payload retains the full provider
// event data for audit and debugging.
type Subscription struct {
	ID                   int64
	AccountID            string
	PaddleSubscriptionID string
	Status               string
	PlanName             sql.NullString
	CurrentPeriodEndsAt  sql.NullString
	RawPayload           string
	UpdatedAt            int64
}

// UpsertSubscription inserts or replaces the record keyed by the provider's
// subscription ID. Blind insert would break webhook retry safety; the
// ON CONFLICT upsert keeps replays re-entrant.
func (d *DB) UpsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		   (account_id, paddle_subscription_id, status, plan_name, current_period_ends_at, raw_payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(paddle_subscription_id) DO UPDATE SET
		   account_id = excluded.account_id,
		   status = excluded.status,
		   plan_name = excluded.plan_name,
		   current_period_ends_at = excluded.current_period_ends_at,
		   raw_payload = excluded.raw_payload,
		   updated_at = excluded.updated_at`,
		sub.AccountID, sub.PaddleSubscriptionID, sub.Status, sub.PlanName,
		sub.CurrentPeriodEndsAt, sub.RawPayload, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// LatestSubscriptionForAccount returns the most-recently-updated record for
// an account, or sql.ErrNoRows. Ties on updated_at break by row id
// descending for deterministic selection.
func (d *DB) LatestSubscriptionForAccount(ctx context.Context, accountID string) (Subscription, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, account_id, paddle_subscription_id, status, plan_name, current_period_ends_at, raw_payload, updated_at
		 FROM subscriptions
		 WHERE account_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		accountID,
	)
	var s Subscription
	err := row.Scan(&s.ID, &s.AccountID, &s.PaddleSubscriptionID, &s.Status,
		&s.PlanName, &s.CurrentPeriodEndsAt, &s.RawPayload, &s.UpdatedAt)
	return s, err
}
