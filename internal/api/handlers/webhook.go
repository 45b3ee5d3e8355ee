package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/metrics"
	"github.com/hugh/go-tenant/pkg/util"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, signature string) (*billing.Outcome, error)
}

type WebhookHandler struct {
	reconciler WebhookReconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewWebhookHandler(reconciler WebhookReconciler, m *metrics.Metrics, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &WebhookHandler{reconciler: reconciler, metrics: m, logger: logger}
}

// Stripe handles POST /webhooks/stripe. The provider redelivers anything
// that is not a 2xx, so only transient failures answer 500.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.WebhookEvent("unverified", "unreadable")
		writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	out, err := h.reconciler.Handle(r.Context(), payload, r.Header.Get(signatureHeader))

	// Unverified deliveries never contribute their own event type as a label.
	eventType := "unverified"
	if out != nil {
		eventType = out.EventType
	}

	switch {
	case err == nil:
		h.metrics.WebhookEvent(eventType, string(out.Result))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, billing.ErrSignatureInvalid):
		h.metrics.WebhookEvent(eventType, "rejected")
		h.logger.Warn("webhook signature rejected", "ip", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "Invalid signature")
	case billing.IsPermanent(err):
		h.metrics.WebhookEvent(eventType, "malformed")
		writeError(w, http.StatusBadRequest, "Malformed event")
	default:
		h.metrics.WebhookEvent(eventType, "retry")
		writeError(w, http.StatusInternalServerError, "retry")
	}
}
