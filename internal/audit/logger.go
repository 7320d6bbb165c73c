package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventOTPSent              EventType = "otp_sent"
	EventOTPVerifySuccess     EventType = "otp_verify_success"
	EventOTPVerifyFailure     EventType = "otp_verify_failure"
	EventCodeLogin            EventType = "code_login"
	EventCodeLoginFailure     EventType = "code_login_failure"
	EventAuthFailure          EventType = "auth_failure"
	EventRateLimitExceed      EventType = "rate_limit_exceeded"
	EventWebhookSignatureFail EventType = "webhook_signature_failure"
	EventPaymentConfirmed     EventType = "payment_confirmed"
	EventSessionCompleted     EventType = "session_completed"
)

type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	Email     string
	IP        string
	UserAgent string
	Details   map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("userId", event.UserID).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.Email != "" {
		logger = logger.With().Str("email", event.Email).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the first address of X-Forwarded-For, then X-Real-IP, then
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
