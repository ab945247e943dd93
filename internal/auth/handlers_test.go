package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ctrlv-app/license-server/internal/auth"
	"github.com/ctrlv-app/license-server/internal/email"
	"github.com/ctrlv-app/license-server/internal/ratelimit"
	"github.com/ctrlv-app/license-server/internal/testdb"
)

func newTestHandler(t *testing.T) (*auth.Handler, *email.MockService) {
	t.Helper()
	database, err := testdb.NewInMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	sender := email.NewMockService()
	svc := auth.NewService(database, sender, auth.Options{
		Pepper:          "test-pepper",
		CodeLifetime:    10 * time.Minute,
		SessionLifetime: 30 * 24 * time.Hour,
		TrialDays:       14,
		Clock:           &fakeClock{now: time.Unix(1_700_000_000, 0)},
	})
	return auth.NewHandler(svc, nil, nil), sender
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRequestMagicCodeEndpoint(t *testing.T) {
	h, sender := newTestHandler(t)

	rec := postJSON(t, h.RequestMagicCode, `{"email":"  USER@Example.com "}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("body = %v, want ok:true", body)
	}
	if _, leaked := body["code"]; leaked {
		t.Error("plaintext code leaked with a working provider")
	}
	if sender.LastEmail().To != "user@example.com" {
		t.Errorf("sent to %q, want normalized address", sender.LastEmail().To)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Allow-Origin = %q", origin)
	}
}

func TestRequestMagicCodeRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.RequestMagicCode, `not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "Invalid JSON body" {
		t.Errorf("malformed JSON: body = %s", rec.Body)
	}

	rec = postJSON(t, h.RequestMagicCode, `{"email":"no-at-sign"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad email: status = %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "Invalid email" {
		t.Errorf("bad email: body = %s", rec.Body)
	}
}

func TestVerifyMagicCodeEndpoint(t *testing.T) {
	h, sender := newTestHandler(t)

	postJSON(t, h.RequestMagicCode, `{"email":"user@example.com"}`, nil)
	code := sender.LastEmail().Code

	rec := postJSON(t, h.VerifyMagicCode, `{"email":"user@example.com","code":"`+code+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	token, _ := decodeBody(t, rec)["sessionToken"].(string)
	if token == "" {
		t.Fatal("no sessionToken in response")
	}

	// Replay of a consumed code.
	rec = postJSON(t, h.VerifyMagicCode, `{"email":"user@example.com","code":"`+code+`"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replay: status = %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "Code not found or expired" {
		t.Errorf("replay: body = %s", rec.Body)
	}
}

func TestVerifyMagicCodeRequiresFields(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, body := range []string{`{}`, `{"email":"user@example.com"}`, `{"code":"123456"}`} {
		rec := postJSON(t, h.VerifyMagicCode, body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
		if decodeBody(t, rec)["error"] != "Email and code are required" {
			t.Errorf("body %s: response = %s", body, rec.Body)
		}
	}
}

func TestSubscriptionStatusEndpoint(t *testing.T) {
	h, sender := newTestHandler(t)

	postJSON(t, h.RequestMagicCode, `{"email":"user@example.com"}`, nil)
	rec := postJSON(t, h.VerifyMagicCode,
		`{"email":"user@example.com","code":"`+sender.LastEmail().Code+`"}`, nil)
	token, _ := decodeBody(t, rec)["sessionToken"].(string)

	rec = postJSON(t, h.SubscriptionStatus, ``, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["status"] != "trial" {
		t.Errorf("status = %v, want trial (fresh account)", body["status"])
	}
	if body["trialDaysRemaining"] != float64(14) {
		t.Errorf("trialDaysRemaining = %v, want 14", body["trialDaysRemaining"])
	}
	if body["planName"] != nil {
		t.Errorf("planName = %v, want null", body["planName"])
	}

	// Missing and garbage credentials.
	rec = postJSON(t, h.SubscriptionStatus, ``, nil)
	if rec.Code != http.StatusUnauthorized || decodeBody(t, rec)["error"] != "Missing bearer token" {
		t.Errorf("no header: %d %s", rec.Code, rec.Body)
	}
	rec = postJSON(t, h.SubscriptionStatus, ``, map[string]string{"Authorization": "Bearer bogus"})
	if rec.Code != http.StatusUnauthorized || decodeBody(t, rec)["error"] != "Invalid session" {
		t.Errorf("bogus token: %d %s", rec.Code, rec.Body)
	}
}

func TestRequestMagicCodeRateLimit(t *testing.T) {
	database, err := testdb.NewInMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	sender := email.NewMockService()
	svc := auth.NewService(database, sender, auth.Options{
		Pepper:          "test-pepper",
		CodeLifetime:    10 * time.Minute,
		SessionLifetime: time.Hour,
		Clock:           &fakeClock{now: time.Unix(1_700_000_000, 0)},
	})
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.1, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	h := auth.NewHandler(svc, limiter, nil)

	for i := 0; i < 2; i++ {
		rec := postJSON(t, h.RequestMagicCode, `{"email":"user@example.com"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := postJSON(t, h.RequestMagicCode, `{"email":"user@example.com"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "Too many requests" {
		t.Errorf("body = %s", rec.Body)
	}

	// Other addresses are unaffected.
	rec = postJSON(t, h.RequestMagicCode, `{"email":"other@example.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("other email: status = %d", rec.Code)
	}
}
