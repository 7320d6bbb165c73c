package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/interviewace/session-server/internal/audit"
	"github.com/interviewace/session-server/internal/config"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/util"
)

const (
	StripeSignatureHeader   = "Stripe-Signature"
	RazorpaySignatureHeader = "X-Razorpay-Signature"
)

type signatureVerifier func(r *http.Request, body []byte) error

// WebhookSignatureMiddleware verifies a payment processor signature over the
// raw body before the handler sees it. Failures answer 400 and nothing is
// mutated. The body is restored for the handler.
type WebhookSignatureMiddleware struct {
	provider string
	secret   string
	verify   signatureVerifier
}

func NewStripeSignatureMiddleware(secret string) *WebhookSignatureMiddleware {
	return &WebhookSignatureMiddleware{
		provider: "stripe",
		secret:   secret,
		verify: func(r *http.Request, body []byte) error {
			return webhook.ValidatePayloadWithTolerance(body, r.Header.Get(StripeSignatureHeader), secret, config.StripeSignatureTolerance)
		},
	}
}

func NewRazorpaySignatureMiddleware(secret string) *WebhookSignatureMiddleware {
	return &WebhookSignatureMiddleware{
		provider: "razorpay",
		secret:   secret,
		verify: func(r *http.Request, body []byte) error {
			return util.VerifyRazorpaySignature(r.Header.Get(RazorpaySignatureHeader), body, secret)
		},
	}
}

func (m *WebhookSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			log.Error().Str("provider", m.provider).Msg("webhook rejected: signing secret is not configured")
			writeError(w, apperrors.InvalidSignature())
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Str("provider", m.provider).Msg("webhook: failed to read body")
			writeError(w, apperrors.ValidationError("Failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := m.verify(r, body); err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventWebhookSignatureFail,
				Details: map[string]any{"provider": m.provider, "reason": err.Error()},
			})
			writeError(w, apperrors.InvalidSignature())
			return
		}

		next.ServeHTTP(w, r)
	})
}
