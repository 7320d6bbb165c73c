package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
	"github.com/interviewace/session-server/internal/sse"
)

const eventsHistoryLimit = 50

type SessionStatusReader interface {
	Status(ctx context.Context, sessionID, userID string) (*service.StatusResult, error)
}

type TranscriptHistory interface {
	History(ctx context.Context, sessionID, userID string, limit, offset int) ([]model.Transcript, int, error)
}

type EventsHandler struct {
	broker      *sse.Broker
	sessions    SessionStatusReader
	transcripts TranscriptHistory
	heartbeat   time.Duration
}

func NewEventsHandler(broker *sse.Broker, sessions SessionStatusReader, transcripts TranscriptHistory) *EventsHandler {
	return &EventsHandler{
		broker:      broker,
		sessions:    sessions,
		transcripts: transcripts,
		heartbeat:   sse.HeartbeatInterval,
	}
}

// GET /v1/sessions/{sessionID}/events
//
// Streams transcript, answer and status events for one session. Each heartbeat
// carries a fresh countdown; the stream ends once the session has expired.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	status, err := h.sessions.Status(ctx, sessionID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("sessionId", sessionID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"sessionId": sessionID,
		"status":    status.Session.Status,
		"countdown": status.Countdown,
	}); err != nil {
		return
	}

	if err := h.sendHistory(ctx, w, flusher, sessionID, userID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to send transcript history")
	}

	if status.Countdown.Expired {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sessionId", sessionID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("sessionId", sessionID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			status, err := h.sessions.Status(ctx, sessionID, userID)
			if err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("countdown refresh failed")
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
				continue
			}
			if err := h.sendEvent(w, flusher, sse.EventCountdown, status.Countdown); err != nil {
				log.Debug().Str("sessionId", sessionID).Msg("heartbeat failed, closing connection")
				return
			}
			if status.Countdown.Expired {
				return
			}
		}
	}
}

func (h *EventsHandler) sendHistory(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID, userID string) error {
	items, _, err := h.transcripts.History(ctx, sessionID, userID, eventsHistoryLimit, 0)
	if err != nil {
		return err
	}

	for _, t := range items {
		if err := h.sendEvent(w, flusher, sse.EventTranscript, t); err != nil {
			return err
		}
	}

	if len(items) > 0 {
		log.Debug().Str("sessionId", sessionID).Int("count", len(items)).Msg("sent transcript history")
	}
	return nil
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
