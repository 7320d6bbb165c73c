package handler

import (
	"net/http"
	"time"

	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
)

type TranscriptionHandler struct {
	transcription *service.TranscriptionService
	speech        *service.SpeechService
}

func NewTranscriptionHandler(transcription *service.TranscriptionService, speech *service.SpeechService) *TranscriptionHandler {
	return &TranscriptionHandler{
		transcription: transcription,
		speech:        speech,
	}
}

// POST /v1/process-transcription
func (h *TranscriptionHandler) ProcessTranscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string     `json:"sessionId"`
		Text      string     `json:"text"`
		Timestamp *time.Time `json:"timestamp"`
		Source    string     `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.transcription.Ingest(r.Context(), service.IngestParams{
		SessionID: req.SessionID,
		Text:      req.Text,
		Timestamp: req.Timestamp,
		Source:    model.TranscriptSource(req.Source),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/generate-interview-answer
func (h *TranscriptionHandler) GenerateAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Question  string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	answer, err := h.transcription.GenerateAnswer(r.Context(), req.SessionID, middleware.GetUserID(r.Context()), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":  answer,
		"success": true,
	})
}

// POST /v1/speech-to-text
//
// Accepts either an encoded file as base64 in "audio" or raw float samples in
// "audioData".
func (h *TranscriptionHandler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Audio     string    `json:"audio"`
		AudioData []float32 `json:"audioData"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.speech.Transcribe(r.Context(), service.SpeechRequest{
		Audio:   req.Audio,
		Samples: req.AudioData,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
