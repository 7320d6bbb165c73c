package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/audit"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/service"
)

// WebhookHandler receives payment processor events. Signatures are verified
// by middleware. Any non-2xx answer makes the processor redeliver.
type WebhookHandler struct {
	payments *service.PaymentService
}

func NewWebhookHandler(payments *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{payments: payments}
}

// POST /v1/stripe-webhook
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "stripe", h.payments.HandleStripeEvent)
}

// POST /v1/razorpay-webhook
func (h *WebhookHandler) Razorpay(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "razorpay", h.payments.HandleRazorpayEvent)
}

func (h *WebhookHandler) handle(
	w http.ResponseWriter,
	r *http.Request,
	provider string,
	process func(ctx context.Context, body []byte) (*service.WebhookResult, error),
) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apperrors.ValidationError("Failed to read request body"))
		return
	}

	result, err := process(r.Context(), body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("provider", provider).
			Msg("webhook not processed, provider will retry")
		writeError(w, r, err)
		return
	}

	if result.Processed && !result.AlreadyConfirmed {
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventPaymentConfirmed,
			SessionID: result.SessionID,
			Details:   map[string]any{"provider": provider},
		})
	}

	writeJSON(w, http.StatusOK, result)
}
