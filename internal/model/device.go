package model

import (
	"fmt"
	"time"
)

type DeviceConnection struct {
	ConnectionID string     `db:"connection_id" json:"connectionId"`
	SessionID    string     `db:"session_id" json:"sessionId"`
	DeviceType   DeviceType `db:"device_type" json:"deviceType"`
	LastPing     time.Time  `db:"last_ping" json:"lastPing"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// NewConnectionID builds the {sessionId}_{deviceType}_{unixMillis} identifier.
func NewConnectionID(sessionID string, deviceType DeviceType, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", sessionID, deviceType, at.UnixMilli())
}

// IsActiveAt uses a half-open window: a ping exactly window ago is stale.
func (c *DeviceConnection) IsActiveAt(now time.Time, window time.Duration) bool {
	return now.Sub(c.LastPing) < window
}

type CreateDeviceConnectionParams struct {
	ConnectionID string
	SessionID    string
	DeviceType   DeviceType
	LastPing     time.Time
}
