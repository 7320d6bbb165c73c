package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
)

type ExpiredSessionCompleter interface {
	CompleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type StaleDeviceDeleter interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type ExpiredOTPDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob periodically completes overdue sessions and purges device rows
// and login codes that can no longer be used.
type CleanupJob struct {
	sessions ExpiredSessionCompleter
	devices  StaleDeviceDeleter
	otps     ExpiredOTPDeleter
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

func NewCleanupJob(
	sessions ExpiredSessionCompleter,
	devices StaleDeviceDeleter,
	otps ExpiredOTPDeleter,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		devices:  devices,
		otps:     otps,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := j.now()

	j.runCleanup(ctx, "expired sessions", func(ctx context.Context) (int64, error) {
		return j.sessions.CompleteExpired(ctx, now)
	})
	j.runCleanup(ctx, "stale devices", func(ctx context.Context) (int64, error) {
		return j.devices.DeleteStale(ctx, now.Add(-config.DeviceLivenessWindow))
	})
	if j.otps != nil {
		j.runCleanup(ctx, "expired otps", j.otps.DeleteExpired)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
