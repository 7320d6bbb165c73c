package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/interviewace/session-server/internal/audit"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/service"
)

type Limiter interface {
	Allow(ctx context.Context, policy service.RateLimitPolicy, subject string) service.RateLimitResult
}

// IPRateLimitMiddleware applies one rate limit policy per client IP.
type IPRateLimitMiddleware struct {
	limiter Limiter
	policy  service.RateLimitPolicy
}

func NewIPRateLimitMiddleware(limiter Limiter, policy service.RateLimitPolicy) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		policy:  policy,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		result := m.limiter.Allow(r.Context(), m.policy, ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.policy.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"policy": m.policy.Name},
			})
			WriteRateLimited(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteRateLimited writes a 429 with Retry-After derived from the window reset.
func WriteRateLimited(w http.ResponseWriter, result service.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(time.Now())))
	writeError(w, apperrors.RateLimitExceeded())
}
