package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/interviewace/session-server/internal/util"
)

const tokenIssuer = "interviewace"

// userNamespace seeds the deterministic user ids derived from email addresses.
var userNamespace = uuid.MustParse("6f1c2a8e-3b4d-5e6f-8a9b-0c1d2e3f4a5b")

var ErrTokenSecretMissing = errors.New("token secret not configured")

type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies the HS256 bearer tokens handed out after
// OTP login. The subject is the user id used by the session ownership guard.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    clock
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: systemClock}
}

// UserIDForEmail maps an email address to a stable user id.
func UserIDForEmail(email string) string {
	return uuid.NewSHA1(userNamespace, []byte(util.NormalizeEmail(email))).String()
}

func (s *TokenService) Issue(email string) (string, time.Duration, error) {
	if len(s.secret) == 0 {
		return "", 0, ErrTokenSecretMissing
	}

	now := s.now()
	claims := TokenClaims{
		Email: util.NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   UserIDForEmail(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return token, s.ttl, nil
}

func (s *TokenService) Parse(raw string) (*TokenClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrTokenSecretMissing
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
