package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/blackroad/statesync/internal/hashing"
)

// signatureHeader carries the HMAC-SHA256 signature of the request body,
// in "sha256=<hex>" form.
const signatureHeader = "X-Signature-256"

// maxWebhookBody bounds webhook request bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// webhookPayload is the body of a change notification from an external
// system (the CRM store posts these when records change on its side).
type webhookPayload struct {
	Key string `json:"key"`
}

// handleWebhook accepts a signed change notification and triggers
// reconciliation of the named key.
//
// The signature is verified before the body is parsed; an unsigned or
// tampered request is rejected without revealing whether the secret is
// configured correctly.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.webhookSecret == "" {
		http.Error(w, "webhooks not configured", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !hashing.VerifySignature(body, r.Header.Get(signatureHeader), s.webhookSecret) {
		s.logger.Printf("webhook rejected: bad signature from %s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Key == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if s.onWebhook != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := s.onWebhook(ctx, payload.Key); err != nil {
			s.logger.Printf("webhook reconcile of %s failed: %v", payload.Key, err)
			http.Error(w, "reconcile failed", http.StatusBadGateway)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "key": payload.Key})
}
