package handler

import (
	"net/http"

	"github.com/interviewace/session-server/internal/audit"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
	"github.com/interviewace/session-server/internal/util"
)

// EmailHandler serves the transactional email endpoints and OTP login.
type EmailHandler struct {
	notifier service.Notifier
	otps     *service.OTPService
	limiter  middleware.Limiter
}

func NewEmailHandler(notifier service.Notifier, otps *service.OTPService, limiter middleware.Limiter) *EmailHandler {
	return &EmailHandler{
		notifier: notifier,
		otps:     otps,
		limiter:  limiter,
	}
}

// POST /v1/send-upload-link
func (h *EmailHandler) SendUploadLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		SessionID  string `json:"sessionId"`
		PlanType   string `json:"planType"`
		DeviceMode string `json:"deviceMode"`
		PaymentID  string `json:"paymentId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.notifier.SendUploadLink(r.Context(), service.UploadLinkEmail{
		To:         req.Email,
		SessionID:  req.SessionID,
		PlanType:   req.PlanType,
		DeviceMode: model.DeviceMode(req.DeviceMode),
		PaymentID:  req.PaymentID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Upload link email sent successfully",
	})
}

// POST /v1/send-session-email
func (h *EmailHandler) SendSessionEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		SessionID   string `json:"sessionId"`
		SessionCode string `json:"sessionCode"`
		PlanType    string `json:"planType"`
		JobRole     string `json:"jobRole"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.notifier.SendSessionReady(r.Context(), service.SessionReadyEmail{
		To:          req.Email,
		SessionID:   req.SessionID,
		SessionCode: req.SessionCode,
		PlanType:    req.PlanType,
		JobRole:     req.JobRole,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session details sent to email successfully",
	})
}

// POST /v1/send-otp-email
func (h *EmailHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.otps.Send(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:  audit.EventOTPSent,
		Email: util.NormalizeEmail(req.Email),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "OTP sent successfully",
		"expiresIn": 300,
	})
}

// POST /v1/verify-otp
func (h *EmailHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	email := util.NormalizeEmail(req.Email)
	if email != "" {
		limit := h.limiter.Allow(r.Context(), service.OTPVerifyPolicy, email)
		if !limit.Allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Email:   email,
				Details: map[string]any{"policy": service.OTPVerifyPolicy.Name},
			})
			middleware.WriteRateLimited(w, limit)
			return
		}
	}

	result, err := h.otps.Verify(r.Context(), email, req.OTP)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventOTPVerifyFailure, Email: email})
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventOTPVerifySuccess,
		Email:  email,
		UserID: result.UserID,
	})
	writeJSON(w, http.StatusOK, result)
}
