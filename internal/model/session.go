package model

import (
	"time"
)

type Session struct {
	ID                     string           `db:"id" json:"id"`
	UserID                 *string          `db:"user_id" json:"userId,omitempty"`
	UserEmail              *string          `db:"user_email" json:"userEmail,omitempty"`
	Status                 SessionStatus    `db:"status" json:"status"`
	DeviceMode             DeviceMode       `db:"device_mode" json:"deviceMode"`
	PlanType               string           `db:"plan_type" json:"planType"`
	SessionType            *string          `db:"session_type" json:"sessionType,omitempty"`
	JobRole                *string          `db:"job_role" json:"jobRole,omitempty"`
	DurationMinutes        int              `db:"duration_minutes" json:"durationMinutes"`
	PriceCents             int              `db:"price_cents" json:"priceCents"`
	Currency               string           `db:"currency" json:"currency"`
	SessionCode            *string          `db:"session_code" json:"-"`
	PaymentProvider        *PaymentProvider `db:"payment_provider" json:"paymentProvider,omitempty"`
	PaymentSessionID       *string          `db:"payment_session_id" json:"-"`
	PaymentReference       *string          `db:"payment_reference" json:"-"`
	StartedAt              *time.Time       `db:"started_at" json:"startedAt,omitempty"`
	ExpiresAt              *time.Time       `db:"expires_at" json:"expiresAt,omitempty"`
	CompletedAt            *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	QuestionsIncluded      int              `db:"questions_included" json:"questionsIncluded"`
	QuestionsUsed          int              `db:"questions_used" json:"questionsUsed"`
	CodingSessionsIncluded int              `db:"coding_sessions_included" json:"codingSessionsIncluded"`
	CodingSessionsUsed     int              `db:"coding_sessions_used" json:"codingSessionsUsed"`
	CreatedAt              time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time        `db:"updated_at" json:"updatedAt"`
}

// IsExpiredAt reports whether a running session has reached its expiry.
// Sessions that never started have no expiry.
func (s *Session) IsExpiredAt(now time.Time) bool {
	if !s.Status.IsLive() || s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// Remaining returns the time left before expiry, zero when not started or past due.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt == nil {
		return 0
	}
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Session) RemainingQuestions() int {
	if r := s.QuestionsIncluded - s.QuestionsUsed; r > 0 {
		return r
	}
	return 0
}

func (s *Session) RemainingCodingSessions() int {
	if r := s.CodingSessionsIncluded - s.CodingSessionsUsed; r > 0 {
		return r
	}
	return 0
}

type CreateSessionParams struct {
	ID                     string
	UserID                 *string
	UserEmail              *string
	Status                 SessionStatus
	DeviceMode             DeviceMode
	PlanType               string
	SessionType            *string
	DurationMinutes        int
	PriceCents             int
	Currency               string
	QuestionsIncluded      int
	CodingSessionsIncluded int
}

// TransitionParams describes a compare-and-swap status change. Only non-nil
// optional fields are written.
type TransitionParams struct {
	ID               string
	From             []SessionStatus
	To               SessionStatus
	At               time.Time
	StartedAt        *time.Time
	ExpiresAt        *time.Time
	CompletedAt      *time.Time
	SessionCode      *string
	JobRole          *string
	PaymentReference *string
}
