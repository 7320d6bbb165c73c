package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/database"
	"github.com/interviewace/session-server/internal/sse"
)

// Transactor runs fn inside a database transaction. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// EventPublisher delivers realtime events to every subscriber of a session.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

// publishEvent is best effort: a failed broadcast never fails the caller.
func publishEvent(ctx context.Context, events EventPublisher, sessionID, eventType string, data any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, sessionID, sse.NewEvent(eventType, data)); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Str("eventType", eventType).
			Msg("failed to publish session event")
	}
}

type clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
