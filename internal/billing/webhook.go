// Package billing ingests Paddle webhooks: it verifies the notification
// signature, records every event in an idempotency ledger, and syncs
// customer and subscription state onto license accounts.
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ctrlv-app/license-server/internal/crypto"
	"github.com/ctrlv-app/license-server/internal/db"
	"github.com/ctrlv-app/license-server/internal/errs"
	"github.com/ctrlv-app/license-server/internal/obs"
	"github.com/ctrlv-app/license-server/internal/subscription"
)

// placeholderDomain hosts synthetic emails for accounts created from a
// subscription event that arrived before its customer event. A later
// customer event backfills the real address via the customer-ID link.
const placeholderDomain = "pending.paddle.local"

// Clock abstracts wall time for signature-tolerance tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures a webhook Service.
type Options struct {
	WebhookSecret string
	// Tolerance bounds how far a signature timestamp may drift from
	// server time in either direction.
	Tolerance time.Duration
	Clock     Clock
}

// Service processes verified Paddle events.
type Service struct {
	db   *db.DB
	opts Options
	log  *slog.Logger
}

// NewService wires the billing service. A nil Clock defaults to wall time.
func NewService(database *db.DB, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	return &Service{
		db:   database,
		opts: opts,
		log:  obs.Pkg("billing"),
	}
}

// Event is the envelope Paddle posts for every notification.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type customerData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type subscriptionData struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Items      []struct {
		Price struct {
			Name string `json:"name"`
		} `json:"price"`
	} `json:"items"`
	CurrentBillingPeriodEndsAt string `json:"current_billing_period_ends_at"`
}

// VerifySignature checks a Paddle-Signature header against the raw
// request body. The header carries `ts=<unix>;h1=<hex>` fields; the
// signed payload is "{ts}:{rawBody}". Several h1 candidates may appear
// during secret rotation; any single match passes.
func (s *Service) VerifySignature(header, rawBody string) error {
	var timestampRaw string
	var candidates []string
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		if v, ok := strings.CutPrefix(field, "ts="); ok && timestampRaw == "" {
			timestampRaw = v
		}
		if v, ok := strings.CutPrefix(field, "h1="); ok && v != "" {
			candidates = append(candidates, v)
		}
	}
	if timestampRaw == "" || len(candidates) == 0 {
		return errs.New(errs.InvalidArgument, "Invalid Paddle-Signature format")
	}

	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return errs.New(errs.InvalidArgument, "Invalid signature timestamp")
	}

	drift := s.opts.Clock.Now().Unix() - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(s.opts.Tolerance.Seconds()) {
		return errs.New(errs.InvalidArgument, "Signature timestamp outside allowed window")
	}

	expected := crypto.HMACSHA256Hex(s.opts.WebhookSecret, fmt.Sprintf("%d:%s", timestamp, rawBody))
	for _, candidate := range candidates {
		if crypto.SecureCompare(candidate, expected) {
			return nil
		}
	}
	return errs.New(errs.InvalidArgument, "Invalid signature hash")
}

// Result reports how an event was handled.
type Result struct {
	// Deduplicated is true when the event was already in the ledger and
	// no side effects ran.
	Deduplicated bool
}

// HandleEvent parses a verified payload, passes the idempotency gate,
// and applies customer or subscription side effects. Replays of an
// event_id short-circuit after the gate.
func (s *Service) HandleEvent(ctx context.Context, rawBody []byte) (Result, error) {
	var event Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return Result{}, errs.New(errs.InvalidArgument, "Invalid JSON payload")
	}
	if event.EventID == "" || event.EventType == "" {
		return Result{}, errs.New(errs.InvalidArgument, "Missing event_id or event_type")
	}

	now := s.opts.Clock.Now()
	err := s.db.InsertWebhookEvent(ctx, event.EventID, event.EventType, string(rawBody), now.Unix())
	if errors.Is(err, db.ErrDuplicateEvent) {
		s.log.InfoContext(ctx, "webhook event deduplicated",
			"event_id", event.EventID, "event_type", event.EventType)
		return Result{Deduplicated: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("log webhook event: %w", err)
	}

	// Prefix dispatch is safe here: Paddle's event taxonomy is fixed
	// and versioned by the provider.
	if strings.HasPrefix(event.EventType, "customer.") {
		if err := s.syncCustomer(ctx, event.Data, now); err != nil {
			return Result{}, err
		}
	}
	if strings.HasPrefix(event.EventType, "subscription.") {
		if err := s.syncSubscription(ctx, event.Data, now); err != nil {
			return Result{}, err
		}
	}

	s.log.InfoContext(ctx, "webhook event processed",
		"event_id", event.EventID, "event_type", event.EventType)
	return Result{}, nil
}

// syncCustomer links a Paddle customer to the account for its email,
// creating the account if needed and backfilling placeholder emails.
func (s *Service) syncCustomer(ctx context.Context, data json.RawMessage, now time.Time) error {
	var customer customerData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &customer); err != nil {
			return fmt.Errorf("parse customer data: %w", err)
		}
	}
	if customer.ID == "" || customer.Email == "" {
		return nil
	}
	address := strings.ToLower(customer.Email)

	account, err := s.db.GetAccountByCustomerID(ctx, customer.ID)
	if err == nil {
		return s.db.UpdateAccountCustomer(ctx, account.ID, address, customer.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup account by customer: %w", err)
	}
	return s.db.UpsertAccountCustomer(ctx, address, customer.ID, now.Unix())
}

// syncSubscription upserts the authoritative billing record, creating a
// placeholder account when the subscription event outruns its customer
// event.
func (s *Service) syncSubscription(ctx context.Context, data json.RawMessage, now time.Time) error {
	var sub subscriptionData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("parse subscription data: %w", err)
		}
	}
	if sub.ID == "" || sub.CustomerID == "" {
		return nil
	}

	accountID, err := s.resolveAccountID(ctx, sub.CustomerID, now)
	if err != nil {
		return err
	}

	record := db.Subscription{
		AccountID:            accountID,
		PaddleSubscriptionID: sub.ID,
		Status:               string(subscription.Normalize(sub.Status)),
		RawPayload:           string(data),
		UpdatedAt:            now.Unix(),
	}
	if name := extractPlanName(sub); name != "" {
		record.PlanName = sql.NullString{String: name, Valid: true}
	}
	if sub.CurrentBillingPeriodEndsAt != "" {
		record.CurrentPeriodEndsAt = sql.NullString{String: sub.CurrentBillingPeriodEndsAt, Valid: true}
	}
	return s.db.UpsertSubscription(ctx, record)
}

func (s *Service) resolveAccountID(ctx context.Context, customerID string, now time.Time) (string, error) {
	account, err := s.db.GetAccountByCustomerID(ctx, customerID)
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup account by customer: %w", err)
	}

	placeholder := strings.ToLower(customerID) + "@" + placeholderDomain
	created, err := s.db.CreateAccount(ctx, placeholder, customerID, now.Unix())
	if err != nil {
		return "", fmt.Errorf("create account for subscription event: %w", err)
	}
	s.log.InfoContext(ctx, "placeholder account created for subscription event",
		"account_id", created.ID)
	return created.ID, nil
}

func extractPlanName(sub subscriptionData) string {
	if len(sub.Items) == 0 {
		return ""
	}
	return sub.Items[0].Price.Name
}
