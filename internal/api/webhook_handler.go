/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * Lemon Squeezy. It is the entry point for all payment lifecycle
 * notifications from the provider.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of incoming webhooks
 *   before any payload parsing.
 * - Parsing: Decodes the JSON payload into strongly-typed Go structs.
 * - Idempotency: Delegates to the application service, which records each
 *   delivery in a durable event ledger before mutating state.
 * - Response policy: The provider retries on non-2xx responses, so failures
 *   after verification are acknowledged with 200 unless retrying could
 *   actually help (a broken ledger returns 500).
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Webhook signature validation.
 * - The service's internal packages for domain models and business logic.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/scribelink/assignment-service/internal/app"
	"github.com/scribelink/assignment-service/internal/domain"
)

const signatureHeader = "X-Signature"

// WebhookHandler processes incoming webhooks from Lemon Squeezy.
type WebhookHandler struct {
	service       *app.Service
	secret        string
	allowUnsigned bool
	logger        *slog.Logger
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(service *app.Service, secret string, allowUnsigned bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		secret:        secret,
		allowUnsigned: allowUnsigned,
		logger:        logger.With("component", "webhook_handler"),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Browser preflight. The dashboard can fire test deliveries from the
	// provider UI, which preflights with OPTIONS.
	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 2. Read the raw body. The signature covers the exact bytes on the
	// wire, so it must be buffered before decoding.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	// 3. Validate the signature before trusting anything in the payload.
	if !h.isValidSignature(r.Header.Get(signatureHeader), body) {
		h.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// 4. Decode the webhook payload.
	var event domain.LemonSqueezyWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to decode webhook payload", "error", err)
		http.Error(w, "Invalid JSON payload", http.StatusInternalServerError)
		return
	}

	eventID := r.Header.Get("X-Event-Id")
	if eventID == "" {
		// Older deliveries omit the header; event name plus resource ID is
		// stable across redeliveries of the same event.
		eventID = event.Meta.EventName + ":" + event.Data.ID
	}

	h.logger.Info("received webhook event", "event_name", event.Meta.EventName, "event_id", eventID, "order_id", event.Data.ID)

	// 5. Process. Data-layer failures after this point are logged and
	// acknowledged: the provider's retry would hit the same error, and the
	// event ledger already holds the delivery for reconciliation. The one
	// exception is the ledger itself being unreachable, where a retry is
	// the correct remedy.
	if err := h.service.ProcessWebhookEvent(r.Context(), eventID, event); err != nil {
		if errors.Is(err, app.ErrEventLedgerUnavailable) {
			h.logger.Error("webhook event ledger unavailable", "event_id", eventID, "error", err)
			http.Error(w, "Event processing unavailable", http.StatusInternalServerError)
			return
		}
		h.logger.Error("failed to process webhook event", "event_id", eventID, "error", err)
	}

	writeCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook processed"))
}

// isValidSignature computes the HMAC-SHA256 of the raw body with the shared
// secret and compares it against the hex digest sent by Lemon Squeezy.
func (h *WebhookHandler) isValidSignature(signature string, body []byte) bool {
	if h.secret == "" {
		if h.allowUnsigned {
			h.logger.Warn("webhook signature validation skipped: no secret configured")
			return true
		}
		return false
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, x-signature")
}
