package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/ctrlv-app/license-server/internal/billing"
	"github.com/ctrlv-app/license-server/internal/crypto"
	"github.com/ctrlv-app/license-server/internal/db"
	"github.com/ctrlv-app/license-server/internal/errs"
	"github.com/ctrlv-app/license-server/internal/testdb"
)

const testSecret = "whsec_test"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*billing.Service, *fakeClock, *db.DB) {
	t.Helper()
	database, err := testdb.NewInMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := billing.NewService(database, billing.Options{
		WebhookSecret: testSecret,
		Tolerance:     5 * time.Minute,
		Clock:         clock,
	})
	return svc, clock, database
}

// sign produces a Paddle-Signature header for body at timestamp ts.
func sign(ts int64, body string) string {
	mac := crypto.HMACSHA256Hex(testSecret, fmt.Sprintf("%d:%s", ts, body))
	return fmt.Sprintf("ts=%d;h1=%s", ts, mac)
}

func TestVerifySignature(t *testing.T) {
	svc, clock, _ := newTestService(t)
	body := `{"event_id":"evt_1","event_type":"subscription.created"}`
	now := clock.Now().Unix()

	if err := svc.VerifySignature(sign(now, body), body); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// Tampered body fails even with a well-formed header.
	err := svc.VerifySignature(sign(now, body), body+" ")
	if errs.MessageOf(err) != "Invalid signature hash" {
		t.Errorf("tampered body: got %v", err)
	}

	tsOnly := fmt.Sprintf("ts=%d", now)
	emptyH1 := fmt.Sprintf("ts=%d;h1=", now)
	cases := map[string]string{
		"":                     "Invalid Paddle-Signature format",
		"h1=abc":               "Invalid Paddle-Signature format",
		tsOnly:                 "Invalid Paddle-Signature format",
		emptyH1:                "Invalid Paddle-Signature format",
		"ts=notanumber;h1=abc": "Invalid signature timestamp",
	}
	for header, want := range cases {
		if got := errs.MessageOf(svc.VerifySignature(header, body)); got != want {
			t.Errorf("header %q: got %q, want %q", header, got, want)
		}
	}
}

func TestVerifySignatureToleranceWindow(t *testing.T) {
	svc, clock, _ := newTestService(t)
	body := `{}`
	now := clock.Now().Unix()

	// Drift at the boundary is allowed in both directions; one second
	// past it fails even though the HMAC itself is correct.
	for _, drift := range []int64{-300, -10, 0, 10, 300} {
		if err := svc.VerifySignature(sign(now+drift, body), body); err != nil {
			t.Errorf("drift %ds rejected: %v", drift, err)
		}
	}
	for _, drift := range []int64{-301, 301, 3600} {
		err := svc.VerifySignature(sign(now+drift, body), body)
		if errs.MessageOf(err) != "Signature timestamp outside allowed window" {
			t.Errorf("drift %ds: got %v", drift, err)
		}
	}
}

func TestVerifySignatureMultipleCandidates(t *testing.T) {
	svc, clock, _ := newTestService(t)
	body := `{}`
	now := clock.Now().Unix()
	good := crypto.HMACSHA256Hex(testSecret, fmt.Sprintf("%d:%s", now, body))

	// Secret rotation sends several h1 fields; any one match passes.
	header := fmt.Sprintf("ts=%d;h1=%s;h1=%s", now, strings.Repeat("0", 64), good)
	if err := svc.VerifySignature(header, body); err != nil {
		t.Fatalf("second candidate rejected: %v", err)
	}
}

func TestVerifySignatureProperty(t *testing.T) {
	svc, clock, _ := newTestService(t)
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.String().Draw(t, "body")
		ts := clock.Now().Unix()
		if err := svc.VerifySignature(sign(ts, body), body); err != nil {
			t.Fatalf("signed body rejected: %v", err)
		}
		other := rapid.String().Filter(func(s string) bool { return s != body }).Draw(t, "other")
		if err := svc.VerifySignature(sign(ts, body), other); err == nil {
			t.Fatalf("signature for %q accepted for %q", body, other)
		}
	})
}

func subscriptionEvent(eventID, subID, customerID, status, plan string) []byte {
	payload := map[string]any{
		"event_id":   eventID,
		"event_type": "subscription.created",
		"data": map[string]any{
			"id":          subID,
			"customer_id": customerID,
			"status":      status,
			"items": []map[string]any{
				{"price": map[string]any{"name": plan}},
			},
			"current_billing_period_ends_at": "2026-09-28T00:00:00Z",
		},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestHandleEventDeduplicates(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()
	raw := subscriptionEvent("evt_1", "sub_1", "ctm_1", "active", "Pro Monthly")

	result, err := svc.HandleEvent(ctx, raw)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if result.Deduplicated {
		t.Fatal("first delivery marked deduplicated")
	}

	result, err = svc.HandleEvent(ctx, raw)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !result.Deduplicated {
		t.Fatal("replay not marked deduplicated")
	}

	// The replay must not double-apply side effects.
	var count int
	err = database.SQL().QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&count)
	if err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if count != 1 {
		t.Errorf("subscription rows = %d, want 1", count)
	}
}

func TestHandleEventRequiresEnvelope(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.HandleEvent(ctx, []byte("not json"))
	if errs.MessageOf(err) != "Invalid JSON payload" {
		t.Errorf("bad JSON: got %v", err)
	}

	for _, raw := range []string{`{}`, `{"event_id":"evt_1"}`, `{"event_type":"customer.updated"}`} {
		_, err := svc.HandleEvent(ctx, []byte(raw))
		if errs.MessageOf(err) != "Missing event_id or event_type" {
			t.Errorf("payload %s: got %v", raw, err)
		}
	}
}

func TestSubscriptionEventCreatesPlaceholderAccount(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()

	_, err := svc.HandleEvent(ctx, subscriptionEvent("evt_1", "sub_1", "CTM_ABC", "trialing", "Pro Monthly"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	account, err := database.GetAccountByCustomerID(ctx, "CTM_ABC")
	if err != nil {
		t.Fatalf("placeholder account missing: %v", err)
	}
	if account.Email != "ctm_abc@pending.paddle.local" {
		t.Errorf("placeholder email = %q", account.Email)
	}

	sub, err := database.LatestSubscriptionForAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("subscription missing: %v", err)
	}
	if sub.Status != "trial" {
		t.Errorf("stored status = %q, want normalized trial", sub.Status)
	}
	if !sub.PlanName.Valid || sub.PlanName.String != "Pro Monthly" {
		t.Errorf("plan name = %v", sub.PlanName)
	}
	if !sub.CurrentPeriodEndsAt.Valid || sub.CurrentPeriodEndsAt.String != "2026-09-28T00:00:00Z" {
		t.Errorf("period end = %v", sub.CurrentPeriodEndsAt)
	}
}

func TestCustomerEventBackfillsPlaceholder(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()

	// Subscription outruns its customer event.
	if _, err := svc.HandleEvent(ctx, subscriptionEvent("evt_1", "sub_1", "ctm_1", "active", "Pro")); err != nil {
		t.Fatalf("subscription event: %v", err)
	}

	customer := []byte(`{"event_id":"evt_2","event_type":"customer.created",` +
		`"data":{"id":"ctm_1","email":"Real@Example.com"}}`)
	if _, err := svc.HandleEvent(ctx, customer); err != nil {
		t.Fatalf("customer event: %v", err)
	}

	account, err := database.GetAccountByCustomerID(ctx, "ctm_1")
	if err != nil {
		t.Fatalf("account lookup: %v", err)
	}
	if account.Email != "real@example.com" {
		t.Errorf("email = %q, want backfilled lowercased address", account.Email)
	}

	// The subscription still hangs off the same account row.
	if _, err := database.LatestSubscriptionForAccount(ctx, account.ID); err != nil {
		t.Errorf("subscription lost after backfill: %v", err)
	}
}

func TestCustomerEventLinksExistingAccount(t *testing.T) {
	svc, clock, database := newTestService(t)
	ctx := context.Background()

	// The user logged in before ever paying.
	existing, err := database.UpsertAccountByEmail(ctx, "user@example.com", clock.Now().Unix())
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	customer := []byte(`{"event_id":"evt_1","event_type":"customer.created",` +
		`"data":{"id":"ctm_9","email":"user@example.com"}}`)
	if _, err := svc.HandleEvent(ctx, customer); err != nil {
		t.Fatalf("customer event: %v", err)
	}

	linked, err := database.GetAccountByCustomerID(ctx, "ctm_9")
	if err != nil {
		t.Fatalf("linked account lookup: %v", err)
	}
	if linked.ID != existing.ID {
		t.Errorf("customer linked to %q, want existing account %q", linked.ID, existing.ID)
	}
}

func newTestHandler(t *testing.T) (*billing.Handler, *fakeClock) {
	t.Helper()
	svc, clock, _ := newTestService(t)
	return billing.NewHandler(svc), clock
}

func postWebhook(t *testing.T, h *billing.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/paddle-webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Paddle-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func TestWebhookEndpoint(t *testing.T) {
	h, clock := newTestHandler(t)
	body := string(subscriptionEvent("evt_1", "sub_1", "ctm_1", "active", "Pro"))
	now := clock.Now().Unix()

	rec := postWebhook(t, h, body, sign(now, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"ok":true}` {
		t.Errorf("body = %s", got)
	}

	rec = postWebhook(t, h, body, sign(now, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	var replay map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay body: %v", err)
	}
	if replay["ok"] != true || replay["deduplicated"] != true {
		t.Errorf("replay body = %v", replay)
	}
}

func TestWebhookEndpointRejectsBadRequests(t *testing.T) {
	h, clock := newTestHandler(t)
	body := `{"event_id":"evt_1","event_type":"customer.created","data":{}}`
	now := clock.Now().Unix()

	rec := postWebhook(t, h, body, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing header: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Missing Paddle-Signature header") {
		t.Errorf("missing header: body = %s", rec.Body)
	}

	rec = postWebhook(t, h, body, fmt.Sprintf("ts=%d;h1=%s", now, strings.Repeat("f", 64)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad hash: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid signature hash") {
		t.Errorf("bad hash: body = %s", rec.Body)
	}
}
