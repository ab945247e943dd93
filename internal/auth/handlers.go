package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/ctrlv-app/license-server/internal/api"
	"github.com/ctrlv-app/license-server/internal/errs"
	"github.com/ctrlv-app/license-server/internal/obs"
	"github.com/ctrlv-app/license-server/internal/ratelimit"
)

// Handler serves the login and status endpoints.
type Handler struct {
	svc *Service
	// issueLimiter throttles code issuance per normalized email;
	// verifyLimiter throttles redemption attempts per client IP.
	issueLimiter  *ratelimit.Limiter
	verifyLimiter *ratelimit.Limiter
}

// NewHandler builds the endpoint handler. Either limiter may be nil to
// disable that limit (tests).
func NewHandler(svc *Service, issueLimiter, verifyLimiter *ratelimit.Limiter) *Handler {
	return &Handler{
		svc:           svc,
		issueLimiter:  issueLimiter,
		verifyLimiter: verifyLimiter,
	}
}

type requestCodeBody struct {
	Email string `json:"email"`
}

type verifyCodeBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RequestMagicCode handles POST /request-magic-code.
func (h *Handler) RequestMagicCode(w http.ResponseWriter, r *http.Request) {
	var body requestCodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	address, err := NormalizeEmail(body.Email)
	if err != nil {
		api.WriteServiceError(w, err)
		return
	}
	if h.issueLimiter != nil && !h.issueLimiter.Allow(address) {
		api.WriteError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	result, err := h.svc.IssueCode(r.Context(), address)
	if err != nil {
		obs.From(r.Context()).Error("request-magic-code failed", "error", err)
		api.WriteServiceError(w, err)
		return
	}
	if result.DevCode != "" {
		api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "code": result.DevCode})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// VerifyMagicCode handles POST /verify-magic-code.
func (h *Handler) VerifyMagicCode(w http.ResponseWriter, r *http.Request) {
	if h.verifyLimiter != nil && !h.verifyLimiter.Allow(clientIP(r)) {
		api.WriteError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var body verifyCodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	code := strings.TrimSpace(body.Code)
	if body.Email == "" || code == "" {
		api.WriteError(w, http.StatusBadRequest, "Email and code are required")
		return
	}

	token, err := h.svc.VerifyCode(r.Context(), body.Email, code)
	if err != nil {
		if errs.CodeOf(err) == errs.Internal {
			obs.From(r.Context()).Error("verify-magic-code failed", "error", err)
		}
		api.WriteServiceError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"sessionToken": token})
}

// SubscriptionStatus handles POST /subscription-status.
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.ResolveSession(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		api.WriteServiceError(w, err)
		return
	}

	ent, err := h.svc.ResolveEntitlement(r.Context(), account)
	if err != nil {
		obs.From(r.Context()).Error("subscription-status failed", "error", err)
		api.WriteServiceError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ent)
}

// clientIP extracts the caller address, honoring the first hop of
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
