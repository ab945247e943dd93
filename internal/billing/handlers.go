package billing

import (
	"io"
	"net/http"

	"github.com/ctrlv-app/license-server/internal/api"
	"github.com/ctrlv-app/license-server/internal/logutil"
	"github.com/ctrlv-app/license-server/internal/obs"
)

// Handler serves POST /paddle-webhook.
type Handler struct {
	svc *Service
}

// NewHandler builds the webhook endpoint handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// HandleWebhook verifies the Paddle signature over the raw body before
// any parsing, then hands the event to the service.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := obs.From(r.Context())

	if h.svc.opts.WebhookSecret == "" {
		api.WriteError(w, http.StatusInternalServerError, "Missing PADDLE_WEBHOOK_SECRET")
		return
	}

	signature := r.Header.Get("Paddle-Signature")
	if signature == "" {
		api.WriteError(w, http.StatusBadRequest, "Missing Paddle-Signature header")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := h.svc.VerifySignature(signature, string(rawBody)); err != nil {
		log.Warn("webhook signature rejected",
			"error", err,
			"paddle_signature", logutil.RedactHeaderValue("Paddle-Signature", signature),
			"body", logutil.TruncateForLog(string(rawBody), 256))
		api.WriteServiceError(w, err)
		return
	}

	result, err := h.svc.HandleEvent(r.Context(), rawBody)
	if err != nil {
		log.Error("webhook processing failed", "error", err)
		api.WriteServiceError(w, err)
		return
	}
	if result.Deduplicated {
		api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "deduplicated": true})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}
