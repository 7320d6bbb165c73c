package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/interviewace/session-server/internal/model"
)

// ErrConnectionExists is returned by Create when the connection id is taken.
var ErrConnectionExists = errors.New("device connection already exists")

type DeviceConnectionRepository interface {
	Create(ctx context.Context, params model.CreateDeviceConnectionParams) (*model.DeviceConnection, error)
	// Touch refreshes last_ping and reports whether a row matched.
	Touch(ctx context.Context, sessionID, connectionID string, at time.Time) (bool, error)
	// FindActiveBySession returns rows pinged strictly after since.
	FindActiveBySession(ctx context.Context, sessionID string, since time.Time) ([]model.DeviceConnection, error)
	// DeleteStale removes rows, across all sessions, last pinged at or before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type deviceConnectionRepo struct {
	db dbtx
}

func NewDeviceConnectionRepository(db *sqlx.DB) DeviceConnectionRepository {
	return &deviceConnectionRepo{db: db}
}

func (r *deviceConnectionRepo) Create(ctx context.Context, params model.CreateDeviceConnectionParams) (*model.DeviceConnection, error) {
	var conn model.DeviceConnection
	err := r.db.GetContext(ctx, &conn, `
		INSERT INTO device_connections (connection_id, session_id, device_type, last_ping)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.ConnectionID, params.SessionID, params.DeviceType, params.LastPing)
	if isUniqueViolation(err) {
		return nil, ErrConnectionExists
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *deviceConnectionRepo) Touch(ctx context.Context, sessionID, connectionID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE device_connections SET last_ping = $3
		WHERE session_id = $1 AND connection_id = $2
	`, sessionID, connectionID, at)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *deviceConnectionRepo) FindActiveBySession(ctx context.Context, sessionID string, since time.Time) ([]model.DeviceConnection, error) {
	conns := []model.DeviceConnection{}
	err := r.db.SelectContext(ctx, &conns, `
		SELECT * FROM device_connections
		WHERE session_id = $1 AND last_ping > $2
		ORDER BY last_ping DESC
	`, sessionID, since)
	return conns, err
}

func (r *deviceConnectionRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM device_connections WHERE last_ping <= $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
