package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
)

// rateLimitScript is a sliding window over a sorted set scored in milliseconds.
// It returns {allowed, remaining, resetAtMillis}.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 10000)

return {1, limit - count - 1, now + window}
`)

// RateLimitPolicy names a limit applied per subject (client IP or email).
// FailOpen decides what happens when Redis is unreachable.
type RateLimitPolicy struct {
	Name     string
	Limit    int
	Window   time.Duration
	FailOpen bool
}

var (
	OTPVerifyPolicy = RateLimitPolicy{
		Name:   "otp-verify",
		Limit:  config.OTPVerifyPerMin,
		Window: config.OTPVerifyWindow,
	}
	SpeechPolicy = RateLimitPolicy{
		Name:     "speech",
		Limit:    config.SpeechRequestsPerMin,
		Window:   time.Minute,
		FailOpen: true,
	}
)

// SessionCodePolicy limits session code guesses per client IP.
func SessionCodePolicy(attemptsPerMinute int) RateLimitPolicy {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 10
	}
	return RateLimitPolicy{
		Name:   "session-code",
		Limit:  attemptsPerMinute,
		Window: config.SessionCodeWindow,
	}
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot.
func (r RateLimitResult) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds()) + 1
	if secs < 1 {
		return 1
	}
	return secs
}

type RateLimiter struct {
	client redis.Scripter
	now    clock
}

func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow records one hit for subject under policy.
func (rl *RateLimiter) Allow(ctx context.Context, policy RateLimitPolicy, subject string) RateLimitResult {
	now := rl.now()
	key := fmt.Sprintf("ratelimit:%s:%s", policy.Name, subject)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.Limit,
	).Int64Slice()

	if err == nil && len(result) != 3 {
		err = fmt.Errorf("unexpected result length %d", len(result))
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("policy", policy.Name).
			Bool("failOpen", policy.FailOpen).
			Msg("rate limit check failed")
		return RateLimitResult{
			Allowed:   policy.FailOpen,
			Remaining: 0,
			ResetAt:   now.Add(policy.Window),
		}
	}

	return RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   time.UnixMilli(result[2]),
	}
}
