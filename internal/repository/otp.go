package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/interviewace/session-server/internal/model"
)

type EmailOTPRepository interface {
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EmailOTPRepository
	// LockEmail serializes code issuance for one address until the
	// surrounding transaction ends.
	LockEmail(ctx context.Context, email string) error
	Create(ctx context.Context, params model.CreateEmailOTPParams) (*model.EmailOTP, error)
	CountSince(ctx context.Context, email string, since time.Time) (int, error)
	// FindLatestActive returns the newest unused, unexpired OTP with attempts left.
	FindLatestActive(ctx context.Context, email string, now time.Time, maxAttempts int) (*model.EmailOTP, error)
	IncrementAttempts(ctx context.Context, id string) error
	// MarkUsed reports false when the OTP was already consumed.
	MarkUsed(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type emailOTPRepo struct {
	db dbtx
}

func NewEmailOTPRepository(db *sqlx.DB) EmailOTPRepository {
	return &emailOTPRepo{db: db}
}

func (r *emailOTPRepo) WithTx(tx *sqlx.Tx) EmailOTPRepository {
	return &emailOTPRepo{db: tx}
}

func (r *emailOTPRepo) LockEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, email)
	return err
}

func (r *emailOTPRepo) Create(ctx context.Context, params model.CreateEmailOTPParams) (*model.EmailOTP, error) {
	var otp model.EmailOTP
	err := r.db.GetContext(ctx, &otp, `
		INSERT INTO email_otps (id, email, otp_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.ID, params.Email, params.OTPHash, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

func (r *emailOTPRepo) CountSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM email_otps WHERE email = $1 AND created_at >= $2
	`, email, since)
	return count, err
}

func (r *emailOTPRepo) FindLatestActive(ctx context.Context, email string, now time.Time, maxAttempts int) (*model.EmailOTP, error) {
	var otp model.EmailOTP
	err := r.db.GetContext(ctx, &otp, `
		SELECT * FROM email_otps
		WHERE email = $1
		AND used = FALSE
		AND expires_at > $2
		AND attempts < $3
		ORDER BY created_at DESC
		LIMIT 1
	`, email, now, maxAttempts)
	return HandleNotFound(&otp, err)
}

func (r *emailOTPRepo) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_otps SET attempts = attempts + 1 WHERE id = $1
	`, id)
	return err
}

func (r *emailOTPRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE email_otps SET used = TRUE WHERE id = $1 AND used = FALSE
	`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *emailOTPRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM email_otps
		WHERE expires_at < NOW() - INTERVAL '1 hour'
		OR used = TRUE
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
