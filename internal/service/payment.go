package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
)

const (
	stripeEventCheckoutCompleted = "checkout.session.completed"
	razorpayEventPaymentCaptured = "payment.captured"
)

// WebhookResult is returned to the payment processor. Processed is false for
// event types the server does not act on.
type WebhookResult struct {
	Received         bool   `json:"received"`
	Processed        bool   `json:"processed"`
	SessionID        string `json:"sessionId,omitempty"`
	AlreadyConfirmed bool   `json:"alreadyConfirmed,omitempty"`
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentService turns verified payment webhooks into lifecycle transitions.
// Signature checks happen before the body reaches it.
type PaymentService struct {
	lifecycle *LifecycleService
}

func NewPaymentService(lifecycle *LifecycleService) *PaymentService {
	return &PaymentService{lifecycle: lifecycle}
}

func (s *PaymentService) HandleStripeEvent(ctx context.Context, body []byte) (*WebhookResult, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.ValidationError("Invalid webhook payload")
	}

	if string(event.Type) != stripeEventCheckoutCompleted {
		log.Debug().Str("eventType", string(event.Type)).Msg("stripe event ignored")
		return &WebhookResult{Received: true}, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, apperrors.ValidationError("Invalid webhook payload")
	}
	var checkout stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil || checkout.ID == "" {
		return nil, apperrors.ValidationError("Invalid webhook payload")
	}

	reference := checkout.ID
	if checkout.PaymentIntent != nil && checkout.PaymentIntent.ID != "" {
		reference = checkout.PaymentIntent.ID
	}

	result, err := s.lifecycle.ConfirmPayment(ctx, model.PaymentProviderStripe, checkout.ID, reference)
	if err != nil {
		log.Error().
			Err(err).
			Str("eventId", event.ID).
			Str("paymentSessionId", checkout.ID).
			Msg("failed to confirm stripe payment")
		return nil, err
	}

	return &WebhookResult{
		Received:         true,
		Processed:        true,
		SessionID:        result.Session.ID,
		AlreadyConfirmed: result.AlreadyConfirmed,
	}, nil
}

func (s *PaymentService) HandleRazorpayEvent(ctx context.Context, body []byte) (*WebhookResult, error) {
	var event razorpayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.ValidationError("Invalid webhook payload")
	}

	if event.Event != razorpayEventPaymentCaptured {
		log.Debug().Str("eventType", event.Event).Msg("razorpay event ignored")
		return &WebhookResult{Received: true}, nil
	}

	payment := event.Payload.Payment.Entity
	result, err := s.lifecycle.ConfirmPayment(ctx, model.PaymentProviderRazorpay, payment.OrderID, payment.ID)
	if err != nil {
		log.Error().
			Err(err).
			Str("orderId", payment.OrderID).
			Str("paymentId", payment.ID).
			Msg("failed to confirm razorpay payment")
		return nil, err
	}

	return &WebhookResult{
		Received:         true,
		Processed:        true,
		SessionID:        result.Session.ID,
		AlreadyConfirmed: result.AlreadyConfirmed,
	}, nil
}
