package handler

import (
	"net/http"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
)

const (
	actionRegisterDevice   = "register_device"
	actionPing             = "ping"
	actionGetActiveDevices = "get_active_devices"
)

type DeviceHandler struct {
	devices *service.DeviceSyncService
}

func NewDeviceHandler(devices *service.DeviceSyncService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type deviceSyncRequest struct {
	SessionID  string `json:"sessionId"`
	Action     string `json:"action"`
	DeviceType string `json:"deviceType"`
	Data       struct {
		ConnectionID string `json:"connectionId"`
	} `json:"data"`
}

// POST /v1/cross-device-sync
func (h *DeviceHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req deviceSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionID == "" || req.Action == "" {
		writeError(w, r, apperrors.ValidationError("Session ID and action are required"))
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	deviceType := model.DeviceType(req.DeviceType)

	switch req.Action {
	case actionRegisterDevice:
		conn, err := h.devices.RegisterDevice(ctx, req.SessionID, deviceType, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"connectionId": conn.ConnectionID,
			"message":      "Device registered successfully",
		})

	case actionPing:
		if err := h.devices.Ping(ctx, req.SessionID, req.Data.ConnectionID, userID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Ping updated",
		})

	case actionGetActiveDevices:
		result, err := h.devices.GetActiveDevices(ctx, req.SessionID, deviceType, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := map[string]any{
			"success":     true,
			"connections": result.Connections,
			"count":       result.Count,
		}
		if result.ConnectionStatus != nil {
			resp["connectionStatus"] = *result.ConnectionStatus
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeError(w, r, apperrors.InvalidInput("action", "unknown action "+req.Action))
	}
}
