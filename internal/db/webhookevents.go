package db

import (
	"context"
	"errors"
	"fmt"
)

// ErrDuplicateEvent signals that a webhook event_id was already recorded.
// Callers treat it as the already-processed outcome, not a failure.
var ErrDuplicateEvent = errors.New("webhook event already processed")

// WebhookEvent is one row of the append-only idempotency ledger.
type WebhookEvent struct {
	EventID    string
	EventType  string
	Payload    string
	ReceivedAt int64
}

// InsertWebhookEvent appends an event to the ledger. The primary key on
// event_id is the idempotency gate: concurrent deliveries of the same event
// race here and exactly one insert wins; the rest get ErrDuplicateEvent.
// This must stay a single database-level insert, never check-then-act.
func (d *DB) InsertWebhookEvent(ctx context.Context, eventID, eventType, payload string, receivedAt int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, payload, received_at) VALUES (?, ?, ?, ?)`,
		eventID, eventType, payload, receivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}
