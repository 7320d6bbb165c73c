package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/interviewace/session-server/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindByPaymentSessionID(ctx context.Context, paymentSessionID string) (*model.Session, error)
	// FindByCode returns the newest non-completed session holding the code.
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	SetPaymentSession(ctx context.Context, id string, provider model.PaymentProvider, paymentSessionID string) error
	// Transition applies a conditional status update and returns the updated
	// row, or nil when the current status was not one of params.From.
	Transition(ctx context.Context, params model.TransitionParams) (*model.Session, error)
	// IncrementQuestionsUsed returns nil when the question quota is exhausted.
	IncrementQuestionsUsed(ctx context.Context, id string, at time.Time) (*model.Session, error)
	CompleteExpired(ctx context.Context, now time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db dbtx
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByPaymentSessionID(ctx context.Context, paymentSessionID string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE payment_session_id = $1
	`, paymentSessionID)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE session_code = $1
		AND status <> 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (
			id, user_id, user_email, status, device_mode, plan_type, session_type,
			duration_minutes, price_cents, currency, questions_included, coding_sessions_included
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, params.ID, params.UserID, params.UserEmail, params.Status, params.DeviceMode, params.PlanType,
		params.SessionType, params.DurationMinutes, params.PriceCents, params.Currency,
		params.QuestionsIncluded, params.CodingSessionsIncluded)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) SetPaymentSession(ctx context.Context, id string, provider model.PaymentProvider, paymentSessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			payment_provider = $2,
			payment_session_id = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, provider, paymentSessionID, time.Now())
	return err
}

func (r *sessionRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			status = $3,
			updated_at = $4,
			started_at = COALESCE($5, started_at),
			expires_at = COALESCE($6, expires_at),
			completed_at = COALESCE($7, completed_at),
			session_code = COALESCE($8, session_code),
			job_role = COALESCE($9, job_role),
			payment_reference = COALESCE($10, payment_reference)
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`, params.ID, statusArray(params.From), params.To, params.At,
		params.StartedAt, params.ExpiresAt, params.CompletedAt,
		params.SessionCode, params.JobRole, params.PaymentReference)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) IncrementQuestionsUsed(ctx context.Context, id string, at time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			questions_used = questions_used + 1,
			updated_at = $2
		WHERE id = $1
		AND (questions_included = 0 OR questions_used < questions_included)
		RETURNING *
	`, id, at)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) CompleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'completed',
			completed_at = $1,
			updated_at = $1
		WHERE status IN ('in_progress', 'active')
		AND expires_at IS NOT NULL
		AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
