package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a rendered email and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// ResendMailer sends email through the Resend HTTP API.
type ResendMailer struct {
	api  *apiClient
	from string
}

func NewResendMailer(apiKey, baseURL, from string) *ResendMailer {
	return &ResendMailer{
		api:  newAPIClient("resend", baseURL, bearerAuth(apiKey)),
		from: from,
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (m *ResendMailer) Send(ctx context.Context, msg EmailMessage) (string, error) {
	var resp resendResponse
	err := m.api.postJSON(ctx, "/emails", resendRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	log.Info().
		Str("messageId", resp.ID).
		Str("subject", msg.Subject).
		Msg("email sent")

	return resp.ID, nil
}

// LogMailer is used when no email provider is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg EmailMessage) (string, error) {
	log.Warn().
		Str("subject", msg.Subject).
		Msg("email provider not configured, message dropped")
	return "", nil
}
