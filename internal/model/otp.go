package model

import "time"

type EmailOTP struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	OTPHash   string    `db:"otp_hash" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	Used      bool      `db:"used" json:"used"`
	Attempts  int       `db:"attempts" json:"attempts"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateEmailOTPParams struct {
	ID        string
	Email     string
	OTPHash   string
	ExpiresAt time.Time
}
