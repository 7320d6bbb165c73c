package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
)

const (
	defaultHourlyPriceCents = 999
	razorpayCurrency        = "INR"
)

type CheckoutParams struct {
	Provider    model.PaymentProvider
	PlanType    string
	PlanName    string
	UserEmail   string
	UserID      *string
	DeviceMode  model.DeviceMode
	SessionType *string
	// PriceCents is the amount in the smallest currency unit.
	PriceCents int
	Hours      int
	Quota      int
	// Origin is the web app origin used for the redirect URLs.
	Origin string
}

type CheckoutResult struct {
	Provider         model.PaymentProvider `json:"provider"`
	SessionID        string                `json:"sessionId"`
	PaymentSessionID string                `json:"paymentSessionId"`
	CheckoutURL      string                `json:"url,omitempty"`
	Amount           int                   `json:"amount"`
	Currency         string                `json:"currency"`
	KeyID            string                `json:"keyId,omitempty"`
}

type CheckoutService struct {
	lifecycle  *LifecycleService
	stripe     StripeGateway
	razorpay   RazorpayGateway
	appBaseURL string
}

// NewCheckoutService builds the checkout flow. A nil gateway disables that provider.
func NewCheckoutService(lifecycle *LifecycleService, stripe StripeGateway, razorpay RazorpayGateway, appBaseURL string) *CheckoutService {
	return &CheckoutService{
		lifecycle:  lifecycle,
		stripe:     stripe,
		razorpay:   razorpay,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
	}
}

// Checkout creates a pending session, opens the provider checkout and links the two.
func (s *CheckoutService) Checkout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	provider := params.Provider
	if provider == "" {
		provider = model.PaymentProviderStripe
	}
	if !provider.Valid() {
		return nil, apperrors.InvalidInput("provider", "must be stripe or razorpay")
	}
	if provider == model.PaymentProviderStripe && s.stripe == nil {
		return nil, apperrors.Internal("Stripe is not configured")
	}
	if provider == model.PaymentProviderRazorpay && s.razorpay == nil {
		return nil, apperrors.Internal("Razorpay is not configured")
	}

	plan, _ := LookupPlan(params.PlanType)
	price := checkoutPrice(plan, params)
	if price <= 0 {
		return nil, apperrors.InvalidInput("totalPrice", "must be positive")
	}

	pending := CreatePendingParams{
		UserID:      params.UserID,
		UserEmail:   params.UserEmail,
		PlanType:    params.PlanType,
		DeviceMode:  params.DeviceMode,
		SessionType: params.SessionType,
		PriceCents:  price,
	}
	if params.Hours > 0 && !plan.IsQuotaPlan() {
		pending.DurationMinutes = params.Hours * 60
	}

	session, err := s.lifecycle.CreatePending(ctx, pending)
	if err != nil {
		return nil, err
	}

	var result *CheckoutResult
	switch provider {
	case model.PaymentProviderStripe:
		result, err = s.stripeCheckout(ctx, session, plan, params)
	case model.PaymentProviderRazorpay:
		result, err = s.razorpayOrder(ctx, session, params)
	}
	if err != nil {
		return nil, apperrors.External(string(provider), err)
	}

	if err := s.lifecycle.AttachPayment(ctx, session.ID, provider, result.PaymentSessionID); err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("provider", string(provider)).
		Str("paymentSessionId", result.PaymentSessionID).
		Int("amount", result.Amount).
		Msg("checkout created")

	return result, nil
}

func (s *CheckoutService) stripeCheckout(ctx context.Context, session *model.Session, plan Plan, params CheckoutParams) (*CheckoutResult, error) {
	origin := s.origin(params.Origin)
	name, description := productText(plan, params, session.DeviceMode)

	checkout, err := s.stripe.CreateCheckoutSession(ctx, StripeCheckoutRequest{
		ProductName:   name,
		Description:   description,
		Currency:      session.Currency,
		AmountCents:   session.PriceCents,
		CustomerEmail: derefString(session.UserEmail),
		// {CHECKOUT_SESSION_ID} is substituted by Stripe and must stay unescaped.
		SuccessURL: origin + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  origin + "/payment?cancelled=true",
		Metadata: map[string]string{
			"session_id":  session.ID,
			"plan_type":   session.PlanType,
			"device_mode": string(session.DeviceMode),
			"user_email":  derefString(session.UserEmail),
			"quota":       optionalInt(params.Quota),
			"hours":       optionalInt(params.Hours),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutResult{
		Provider:         model.PaymentProviderStripe,
		SessionID:        session.ID,
		PaymentSessionID: checkout.ID,
		CheckoutURL:      checkout.URL,
		Amount:           session.PriceCents,
		Currency:         session.Currency,
	}, nil
}

func (s *CheckoutService) razorpayOrder(ctx context.Context, session *model.Session, params CheckoutParams) (*CheckoutResult, error) {
	order, err := s.razorpay.CreateOrder(ctx, RazorpayOrderRequest{
		Amount:   session.PriceCents,
		Currency: razorpayCurrency,
		Receipt:  "session_" + session.ID[:8],
		Notes: map[string]string{
			"session_id": session.ID,
			"plan_type":  session.PlanType,
			"user_email": derefString(session.UserEmail),
			"quota":      optionalInt(params.Quota),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return &CheckoutResult{
		Provider:         model.PaymentProviderRazorpay,
		SessionID:        session.ID,
		PaymentSessionID: order.ID,
		Amount:           order.Amount,
		Currency:         order.Currency,
		KeyID:            s.razorpay.KeyID(),
	}, nil
}

func (s *CheckoutService) origin(requested string) string {
	origin := strings.TrimRight(strings.TrimSpace(requested), "/")
	if origin == "" {
		return s.appBaseURL
	}
	return origin
}

func checkoutPrice(plan Plan, params CheckoutParams) int {
	if params.PriceCents > 0 {
		return params.PriceCents
	}
	if params.Hours > 0 && !plan.IsQuotaPlan() {
		return defaultHourlyPriceCents * params.Hours
	}
	return plan.PriceCents
}

func productText(plan Plan, params CheckoutParams, mode model.DeviceMode) (string, string) {
	suffix := ""
	if mode == model.DeviceModeCross {
		suffix = " (Cross-Device)"
	}

	if plan.IsQuotaPlan() {
		unit := "questions"
		if plan.QuestionsIncluded > 0 {
			unit = "images"
		}
		quota := params.Quota
		if quota <= 0 {
			quota = plan.QuestionsIncluded + plan.CodingSessionsIncluded
		}
		return plan.Name, fmt.Sprintf("%d %s - One-time payment", quota, unit)
	}

	name := params.PlanName
	if name == "" {
		name = plan.Name
	}
	if params.Hours > 0 {
		unit := "hour"
		if params.Hours > 1 {
			unit = "hours"
		}
		return "Interview Session" + suffix, fmt.Sprintf("%d %s interview session%s", params.Hours, unit, suffix)
	}
	return fmt.Sprintf("InterviewAce %s Plan%s", name, suffix),
		fmt.Sprintf("%d minutes of real-time interview assistance%s", plan.DurationMinutes, suffix)
}

func optionalInt(v int) string {
	if v <= 0 {
		return ""
	}
	return strconv.Itoa(v)
}
