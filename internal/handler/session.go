package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/interviewace/session-server/internal/audit"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/service"
	"github.com/interviewace/session-server/internal/util"
)

type SessionHandler struct {
	lifecycle     *service.LifecycleService
	transcription *service.TranscriptionService
}

func NewSessionHandler(lifecycle *service.LifecycleService, transcription *service.TranscriptionService) *SessionHandler {
	return &SessionHandler{
		lifecycle:     lifecycle,
		transcription: transcription,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{sessionID}", h.GetStatus)
	r.Post("/{sessionID}/start", h.Start)
	r.Post("/{sessionID}/complete", h.Complete)
	r.Get("/{sessionID}/transcripts", h.ListTranscripts)

	return r
}

func sessionIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		return "", apperrors.MissingRequired("sessionId")
	}
	if !util.IsValidUUID(id) {
		return "", apperrors.NotFound("Session")
	}
	return id, nil
}

// POST /v1/process-session-assets
func (h *SessionHandler) ProcessAssets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string  `json:"sessionId"`
		ResumeContent  string  `json:"resumeContent"`
		ResumeFileName string  `json:"resumeFileName"`
		ResumeMimeType string  `json:"resumeMimeType"`
		JobDescription string  `json:"jobDescription"`
		JobRole        *string `json:"jobRole"`
		SessionCode    string  `json:"sessionCode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.lifecycle.SubmitAssets(r.Context(), service.SubmitAssetsParams{
		SessionID:      req.SessionID,
		ResumeContent:  req.ResumeContent,
		ResumeFileName: req.ResumeFileName,
		ResumeMimeType: req.ResumeMimeType,
		JobDescription: req.JobDescription,
		JobRole:        req.JobRole,
		SessionCode:    req.SessionCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Assets processed successfully",
		"sessionId":   result.Session.ID,
		"resumeDocId": result.ResumeDocID,
		"jobDocId":    result.JobDocID,
		"sessionCode": result.SessionCode,
	})
}

// POST /v1/verify-session-code
func (h *SessionHandler) VerifySessionCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionCode string `json:"session_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.lifecycle.StartByCode(r.Context(), req.SessionCode, middleware.GetUserID(r.Context()))
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventCodeLoginFailure,
			Details: map[string]any{"code": util.MaskCode(req.SessionCode), "reason": string(apperrors.GetCode(err))},
		})
		writeError(w, r, err)
		return
	}

	s := result.Session
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventCodeLogin,
		SessionID: s.ID,
	})

	hours := result.DurationHours
	if hours < 1 {
		hours = 1
	}

	userEmail := ""
	if s.UserEmail != nil {
		userEmail = *s.UserEmail
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":                   true,
		"session_id":                s.ID,
		"duration_hours":            hours,
		"remaining_minutes":         result.RemainingMinutes,
		"expires_at":                s.ExpiresAt,
		"user_email":                userEmail,
		"plan_type":                 s.PlanType,
		"session_type":              s.SessionType,
		"job_role":                  s.JobRole,
		"device_mode":               s.DeviceMode,
		"questions_included":        s.QuestionsIncluded,
		"questions_used":            s.QuestionsUsed,
		"coding_sessions_included":  s.CodingSessionsIncluded,
		"coding_sessions_used":      s.CodingSessionsUsed,
		"questions_remaining":       s.RemainingQuestions(),
		"coding_sessions_remaining": s.RemainingCodingSessions(),
	})
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.lifecycle.Status(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":   result.Session,
		"countdown": result.Countdown,
	})
}

// POST /v1/sessions/{sessionID}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.lifecycle.Start(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

// POST /v1/sessions/{sessionID}/complete
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user_ended"
	}

	session, err := h.lifecycle.Complete(r.Context(), id, middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCompleted,
		SessionID: session.ID,
		UserID:    middleware.GetUserID(r.Context()),
		Details:   map[string]any{"reason": req.Reason},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"session":      session,
		"redirectPath": service.BuildCountdown(session, time.Now()).RedirectPath,
	})
}

// GET /v1/sessions/{sessionID}/transcripts
func (h *SessionHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := ParsePagination(r)
	items, total, err := h.transcription.History(r.Context(), id, middleware.GetUserID(r.Context()), page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts": items,
		"pagination":  NewPage(page, total),
	})
}
