package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"github.com/interviewace/session-server/internal/config"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/util"
)

//go:embed templates/*.md
var templateFiles embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.md"))

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

type UploadLinkEmail struct {
	To         string
	SessionID  string
	PlanType   string
	DeviceMode model.DeviceMode
	PaymentID  string
}

type SessionReadyEmail struct {
	To          string
	SessionID   string
	SessionCode string
	PlanType    string
	JobRole     string
}

// Notifier sends the lifecycle emails.
type Notifier interface {
	SendUploadLink(ctx context.Context, email UploadLinkEmail) error
	SendSessionReady(ctx context.Context, email SessionReadyEmail) error
}

type NotificationService struct {
	mailer     Mailer
	appBaseURL string
}

func NewNotificationService(mailer Mailer, appBaseURL string) *NotificationService {
	return &NotificationService{
		mailer:     mailer,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
	}
}

func (s *NotificationService) SendUploadLink(ctx context.Context, email UploadLinkEmail) error {
	if err := validateRecipient(email.To, email.SessionID); err != nil {
		return err
	}

	plan, _ := LookupPlan(email.PlanType)
	planName := plan.Name
	if planName == "" {
		planName = "Premium"
	}

	html, err := renderEmail("upload_link.md", map[string]any{
		"UploadURL":   s.link("/upload", url.Values{"session_id": {email.SessionID}, "payment_confirmed": {"true"}}),
		"PlanName":    planName,
		"CrossDevice": email.DeviceMode == model.DeviceModeCross,
		"SessionID":   email.SessionID,
		"PaymentID":   email.PaymentID,
	})
	if err != nil {
		return err
	}

	_, err = s.mailer.Send(ctx, EmailMessage{
		To:      email.To,
		Subject: "Payment Confirmed - Start Your InterviewAce Session",
		HTML:    html,
	})
	return err
}

func (s *NotificationService) SendSessionReady(ctx context.Context, email SessionReadyEmail) error {
	if err := validateRecipient(email.To, email.SessionID); err != nil {
		return err
	}

	html, err := renderEmail("session_ready.md", map[string]any{
		"SessionURL":  s.link("/upload", url.Values{"session_id": {email.SessionID}}),
		"SessionCode": email.SessionCode,
		"JobRole":     email.JobRole,
		"SessionID":   email.SessionID,
	})
	if err != nil {
		return err
	}

	subject := "Your Interview Session is Ready!"
	if email.SessionCode != "" {
		subject += " Code: " + email.SessionCode
	}

	_, err = s.mailer.Send(ctx, EmailMessage{
		To:      email.To,
		Subject: subject,
		HTML:    html,
	})
	return err
}

// SendOTP delivers a login code.
func (s *NotificationService) SendOTP(ctx context.Context, to, code string) error {
	html, err := renderEmail("otp.md", map[string]any{
		"Code":           code,
		"ExpiresMinutes": int(config.OTPExpiry.Minutes()),
	})
	if err != nil {
		return err
	}

	_, err = s.mailer.Send(ctx, EmailMessage{
		To:      to,
		Subject: "Your InterviewAce Login Code",
		HTML:    html,
	})
	return err
}

func (s *NotificationService) link(path string, query url.Values) string {
	return s.appBaseURL + path + "?" + query.Encode()
}

func validateRecipient(to, sessionID string) error {
	if to == "" || sessionID == "" {
		return apperrors.ValidationError("Email and session ID are required")
	}
	if !util.IsValidEmail(to) {
		return apperrors.InvalidInput("email", "invalid email format")
	}
	return nil
}

func renderEmail(name string, data any) (string, error) {
	var md bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&md, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}

	var html bytes.Buffer
	if err := markdownEngine.Convert(md.Bytes(), &html); err != nil {
		return "", fmt.Errorf("convert %s: %w", name, err)
	}
	return html.String(), nil
}
