package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/util"
)

// OTPSender delivers a login code by email.
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string) error
}

type VerifyOTPResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Email     string `json:"email"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type OTPService struct {
	db     Transactor
	otps   repository.EmailOTPRepository
	sender OTPSender
	tokens *TokenService
	now    clock
}

func NewOTPService(db Transactor, otps repository.EmailOTPRepository, sender OTPSender, tokens *TokenService) *OTPService {
	return &OTPService{
		db:     db,
		otps:   otps,
		sender: sender,
		tokens: tokens,
		now:    systemClock,
	}
}

// Send issues a new login code. At most three codes per email per hour; the
// fourth request is rejected before anything is stored or sent.
func (s *OTPService) Send(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)
	if !util.IsValidEmail(email) {
		return apperrors.ValidationError("Valid email is required")
	}

	// The count and the insert run under a per-email advisory lock so
	// concurrent requests cannot both see two prior codes.
	now := s.now()
	var (
		code string
		otp  *model.EmailOTP
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		otps := s.otps.WithTx(tx)
		if err := otps.LockEmail(ctx, email); err != nil {
			return fmt.Errorf("lock otp email: %w", err)
		}

		count, err := otps.CountSince(ctx, email, now.Add(-config.OTPRequestWindow))
		if err != nil {
			return fmt.Errorf("count recent otps: %w", err)
		}
		if count >= config.OTPMaxPerHour {
			log.Warn().Str("email", email).Int("count", count).Msg("otp request limit reached")
			return apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many OTP requests. Please try again later.")
		}

		code, err = util.GenerateNumericCode(config.OTPLength)
		if err != nil {
			return fmt.Errorf("generate otp: %w", err)
		}
		hash, err := util.HashOTP(code)
		if err != nil {
			return fmt.Errorf("hash otp: %w", err)
		}

		otp, err = otps.Create(ctx, model.CreateEmailOTPParams{
			ID:        uuid.NewString(),
			Email:     email,
			OTPHash:   hash,
			ExpiresAt: now.Add(config.OTPExpiry),
		})
		if err != nil {
			return fmt.Errorf("store otp: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.sender.SendOTP(ctx, email, code); err != nil {
		log.Error().Err(err).Str("otpId", otp.ID).Msg("failed to send otp email")
		return apperrors.External("email", err)
	}

	log.Info().Str("otpId", otp.ID).Msg("otp sent")
	return nil
}

// Verify checks code against the newest live OTP for email. A wrong code burns
// one attempt; after three the OTP is no longer considered.
func (s *OTPService) Verify(ctx context.Context, email, code string) (*VerifyOTPResult, error) {
	email = util.NormalizeEmail(email)
	if email == "" || code == "" {
		return nil, apperrors.ValidationError("Email and OTP are required")
	}

	otp, err := s.otps.FindLatestActive(ctx, email, s.now(), config.OTPMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("find otp: %w", err)
	}
	if otp == nil {
		return nil, apperrors.InvalidOTP()
	}

	if !util.CheckOTPHash(code, otp.OTPHash) {
		if err := s.otps.IncrementAttempts(ctx, otp.ID); err != nil {
			log.Error().Err(err).Str("otpId", otp.ID).Msg("failed to record otp attempt")
		}
		return nil, apperrors.InvalidOTP()
	}

	used, err := s.otps.MarkUsed(ctx, otp.ID)
	if err != nil {
		return nil, fmt.Errorf("mark otp used: %w", err)
	}
	if !used {
		return nil, apperrors.InvalidOTP()
	}

	token, ttl, err := s.tokens.Issue(email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &VerifyOTPResult{
		Success:   true,
		Message:   "OTP verified successfully",
		Email:     email,
		UserID:    UserIDForEmail(email),
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
	}, nil
}
