package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/sse"
)

const maxConnectionIDAttempts = 5

type ActiveDevicesResult struct {
	Connections      []model.DeviceConnection `json:"connections"`
	Count            int                      `json:"count"`
	ConnectionStatus *model.ConnectionStatus  `json:"connectionStatus,omitempty"`
}

type DeviceSyncService struct {
	lifecycle *LifecycleService
	devices   repository.DeviceConnectionRepository
	events    EventPublisher
	now       clock
}

func NewDeviceSyncService(lifecycle *LifecycleService, devices repository.DeviceConnectionRepository, events EventPublisher) *DeviceSyncService {
	return &DeviceSyncService{
		lifecycle: lifecycle,
		devices:   devices,
		events:    events,
		now:       systemClock,
	}
}

func (s *DeviceSyncService) RegisterDevice(ctx context.Context, sessionID string, deviceType model.DeviceType, userID string) (*model.DeviceConnection, error) {
	if !deviceType.Valid() {
		return nil, apperrors.InvalidInput("deviceType", "must be desktop or mobile")
	}
	if _, err := s.guard(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	conn, err := s.createConnection(ctx, sessionID, deviceType, now)
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("connectionId", conn.ConnectionID).
		Str("deviceType", string(deviceType)).
		Msg("device registered")

	publishEvent(ctx, s.events, sessionID, sse.EventDeviceRegistered, conn)
	return conn, nil
}

// createConnection inserts a row keyed {sessionId}_{deviceType}_{unixMillis}.
// Devices of the same type registering within one millisecond take the next
// free millisecond.
func (s *DeviceSyncService) createConnection(ctx context.Context, sessionID string, deviceType model.DeviceType, now time.Time) (*model.DeviceConnection, error) {
	var err error
	for attempt := 0; attempt < maxConnectionIDAttempts; attempt++ {
		var conn *model.DeviceConnection
		conn, err = s.devices.Create(ctx, model.CreateDeviceConnectionParams{
			ConnectionID: model.NewConnectionID(sessionID, deviceType, now.Add(time.Duration(attempt)*time.Millisecond)),
			SessionID:    sessionID,
			DeviceType:   deviceType,
			LastPing:     now,
		})
		if !errors.Is(err, repository.ErrConnectionExists) {
			return conn, err
		}
	}
	return nil, err
}

// Ping refreshes a connection's heartbeat. An unknown connection is NotFound so
// the caller re-registers. Stale rows of every session are purged afterwards.
func (s *DeviceSyncService) Ping(ctx context.Context, sessionID, connectionID, userID string) error {
	if connectionID == "" {
		return apperrors.MissingRequired("connectionId")
	}
	if _, err := s.guard(ctx, sessionID, userID); err != nil {
		return err
	}

	now := s.now()
	found, err := s.devices.Touch(ctx, sessionID, connectionID, now)
	if err != nil {
		return fmt.Errorf("update ping: %w", err)
	}
	if !found {
		return apperrors.NotFound("Device connection")
	}

	if purged, err := s.devices.DeleteStale(ctx, now.Add(-config.DeviceLivenessWindow)); err != nil {
		log.Warn().Err(err).Msg("failed to purge stale device connections")
	} else if purged > 0 {
		log.Debug().Int64("count", purged).Msg("stale device connections purged")
	}
	return nil
}

// GetActiveDevices lists connections pinged within the liveness window. When
// deviceType is set the result carries that device's connection status.
func (s *DeviceSyncService) GetActiveDevices(ctx context.Context, sessionID string, deviceType model.DeviceType, userID string) (*ActiveDevicesResult, error) {
	if deviceType != "" && !deviceType.Valid() {
		return nil, apperrors.InvalidInput("deviceType", "must be desktop or mobile")
	}
	if _, err := s.guard(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	active, err := s.devices.FindActiveBySession(ctx, sessionID, s.now().Add(-config.DeviceLivenessWindow))
	if err != nil {
		return nil, fmt.Errorf("find active devices: %w", err)
	}
	if active == nil {
		active = []model.DeviceConnection{}
	}

	result := &ActiveDevicesResult{Connections: active, Count: len(active)}
	if deviceType != "" {
		status := DeriveConnectionStatus(deviceType, active)
		result.ConnectionStatus = &status
	}
	return result, nil
}

func (s *DeviceSyncService) guard(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	session, err := s.lifecycle.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.DeviceMode != model.DeviceModeCross {
		return nil, apperrors.InvalidDeviceMode()
	}
	if err := s.lifecycle.Authorize(session, userID); err != nil {
		return nil, err
	}

	session, err = s.lifecycle.EnsureLive(ctx, session)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusCompleted {
		return nil, apperrors.SessionExpired()
	}
	return session, nil
}

// DeriveConnectionStatus reports how a device of deviceType sees its peers.
func DeriveConnectionStatus(deviceType model.DeviceType, active []model.DeviceConnection) model.ConnectionStatus {
	peer := model.DeviceTypeMobile
	if deviceType == model.DeviceTypeMobile {
		peer = model.DeviceTypeDesktop
	}
	for _, conn := range active {
		if conn.DeviceType == peer {
			return model.ConnectionStatusConnected
		}
	}
	if deviceType == model.DeviceTypeMobile {
		return model.ConnectionStatusWaiting
	}
	return model.ConnectionStatusSingleDevice
}
