package handler

import (
	"math"
	"net/http"

	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
}

func NewCheckoutHandler(checkout *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type checkoutRequest struct {
	Provider    model.PaymentProvider `json:"provider"`
	PlanType    string                `json:"planType"`
	PlanName    string                `json:"planName"`
	UserEmail   string                `json:"userEmail"`
	DeviceMode  model.DeviceMode      `json:"deviceMode"`
	SessionType *string               `json:"sessionType"`
	PriceAmount int                   `json:"priceAmount"`
	TotalPrice  float64               `json:"totalPrice"`
	Quota       int                   `json:"quota"`
	Hours       int                   `json:"hours"`
}

func (req checkoutRequest) params(r *http.Request, provider model.PaymentProvider) service.CheckoutParams {
	var userID *string
	if id := middleware.GetUserID(r.Context()); id != "" {
		userID = &id
	}
	return service.CheckoutParams{
		Provider:    provider,
		PlanType:    req.PlanType,
		PlanName:    req.PlanName,
		UserEmail:   req.UserEmail,
		UserID:      userID,
		DeviceMode:  req.DeviceMode,
		SessionType: req.SessionType,
		Hours:       req.Hours,
		Quota:       req.Quota,
		Origin:      r.Header.Get("Origin"),
	}
}

// POST /v1/create-checkout-session
// priceAmount is already in the smallest currency unit.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	params := req.params(r, req.Provider)
	params.PriceCents = req.PriceAmount

	result, err := h.checkout.Checkout(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/create-stripe-checkout
// totalPrice is in major units for hourly plans and minor units for quota plans.
func (h *CheckoutHandler) CreateStripeCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	params := req.params(r, model.PaymentProviderStripe)
	if req.TotalPrice > 0 {
		plan, _ := service.LookupPlan(req.PlanType)
		if plan.IsQuotaPlan() {
			params.PriceCents = int(math.Round(req.TotalPrice))
		} else {
			params.PriceCents = int(math.Round(req.TotalPrice * 100))
		}
	}

	result, err := h.checkout.Checkout(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checkout_url":        result.CheckoutURL,
		"session_id":          result.PaymentSessionID,
		"database_session_id": result.SessionID,
	})
}

// POST /v1/create-razorpay-order
// totalPrice is in paise.
func (h *CheckoutHandler) CreateRazorpayOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	params := req.params(r, model.PaymentProviderRazorpay)
	params.PriceCents = int(math.Round(req.TotalPrice))

	result, err := h.checkout.Checkout(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":    result.PaymentSessionID,
		"amount":      result.Amount,
		"currency":    result.Currency,
		"key_id":      result.KeyID,
		"sessionId":   result.SessionID,
		"name":        "InterviewAce",
		"description": "Interview preparation session",
		"prefill": map[string]string{
			"email": req.UserEmail,
		},
	})
}
