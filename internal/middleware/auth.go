package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/audit"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/service"
)

type contextKey string

const (
	UserIDContextKey    contextKey = "userId"
	UserEmailContextKey contextKey = "userEmail"
)

// GetUserID returns the authenticated user id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDContextKey).(string); ok {
		return id
	}
	return ""
}

func GetUserEmail(ctx context.Context) string {
	if email, ok := ctx.Value(UserEmailContextKey).(string); ok {
		return email
	}
	return ""
}

type TokenParser interface {
	Parse(raw string) (*service.TokenClaims, error)
}

// AuthMiddleware resolves an optional bearer token. Requests without a token
// continue anonymously; ownership of user-bound sessions is checked by the
// services. A token that is present but invalid is rejected.
type AuthMiddleware struct {
	tokens TokenParser
}

func NewAuthMiddleware(tokens TokenParser) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			if errors.Is(err, service.ErrTokenSecretMissing) {
				log.Error().Msg("auth middleware: JWT_SECRET is not configured")
				writeError(w, apperrors.Internal("Authentication is not configured"))
				return
			}

			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"reason": err.Error()},
			})
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, apperrors.New(apperrors.ErrCodeTokenExpired, "Token expired"))
				return
			}
			writeError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, claims.Subject)
		ctx = context.WithValue(ctx, UserEmailContextKey, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token. EventSource and WebSocket clients
// cannot set headers, so a token query parameter is accepted as well.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return r.URL.Query().Get("token")
}
