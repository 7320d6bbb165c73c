package service

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/interviewace/session-server/internal/config"
)

type StripeCheckoutRequest struct {
	ProductName   string
	Description   string
	Currency      string
	AmountCents   int
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type StripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, req StripeCheckoutRequest) (*StripeCheckoutSession, error)
}

// StripeClient creates Checkout Sessions through stripe-go. Network retries are
// disabled; a failed checkout is reported to the caller.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey, baseURL string) *StripeClient {
	backends := stripe.NewBackends(&http.Client{Timeout: config.ExternalRequestTimeout})
	backends.API = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(baseURL),
		HTTPClient:        &http.Client{Timeout: config.ExternalRequestTimeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{},
	})

	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeClient{api: api}
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req StripeCheckoutRequest) (*StripeCheckoutSession, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(req.Currency),
					ProductData: product,
					UnitAmount:  stripe.Int64(int64(req.AmountCents)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &StripeCheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// stripeLogger routes stripe-go's internal logging to zerolog.
type stripeLogger struct{}

func (stripeLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("service", "stripe").Msgf(format, v...)
}

func (stripeLogger) Infof(format string, v ...interface{}) {
	log.Debug().Str("service", "stripe").Msgf(format, v...)
}

func (stripeLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("service", "stripe").Msgf(format, v...)
}

func (stripeLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("service", "stripe").Msgf(format, v...)
}

type RazorpayOrderRequest struct {
	Amount   int               `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type RazorpayOrder struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

type RazorpayGateway interface {
	CreateOrder(ctx context.Context, req RazorpayOrderRequest) (*RazorpayOrder, error)
	KeyID() string
}

// RazorpayClient talks to the Razorpay orders API with basic auth.
type RazorpayClient struct {
	api   *apiClient
	keyID string
}

func NewRazorpayClient(keyID, keySecret, baseURL string) *RazorpayClient {
	return &RazorpayClient{
		api:   newAPIClient("razorpay", baseURL, basicAuth(keyID, keySecret)),
		keyID: keyID,
	}
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, req RazorpayOrderRequest) (*RazorpayOrder, error) {
	var order RazorpayOrder
	if err := c.api.postJSON(ctx, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *RazorpayClient) KeyID() string {
	return c.keyID
}
