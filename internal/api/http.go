// Package api provides the shared HTTP plumbing for the license endpoints:
// JSON responses, CORS headers, preflight, and method guards.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ctrlv-app/license-server/internal/errs"
)

// CORS headers applied to every response. The desktop client calls these
// endpoints directly; any origin is allowed.
const (
	allowOrigin  = "*"
	allowHeaders = "authorization, x-client-info, apikey, content-type, paddle-signature"
	allowMethods = "GET,POST,OPTIONS"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ApplyCORS sets the shared CORS headers on a response.
func ApplyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Allow-Methods", allowMethods)
}

// WriteJSON writes a JSON response with CORS headers.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	ApplyCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error body with CORS headers.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteServiceError maps a coded service error to its HTTP response.
func WriteServiceError(w http.ResponseWriter, err error) {
	WriteError(w, errs.HTTPStatus(errs.CodeOf(err)), errs.MessageOf(err))
}

// Endpoint wraps a POST-only JSON handler with preflight and method
// guarding. OPTIONS answers 200 "ok" with CORS headers; any method other
// than POST or OPTIONS gets 405.
func Endpoint(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			ApplyCORS(w)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		handler(w, r)
	}
}
