package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewace/session-server/internal/database"
	"github.com/interviewace/session-server/internal/model"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func createTestSession(t *testing.T, repo SessionRepository, status model.SessionStatus) *model.Session {
	t.Helper()
	session, err := repo.Create(context.Background(), model.CreateSessionParams{
		ID:                uuid.NewString(),
		Status:            status,
		DeviceMode:        model.DeviceModeCross,
		PlanType:          "standard",
		DurationMinutes:   60,
		PriceCents:        1900,
		Currency:          "usd",
		QuestionsIncluded: 2,
	})
	require.NoError(t, err)
	return session
}

func TestSessionRepository_Transition(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewSessionRepository(db.DB)
	ctx := context.Background()
	session := createTestSession(t, repo, model.SessionStatusAssetsReceived)

	t.Run("applies when current status matches", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		expires := now.Add(time.Hour)
		updated, err := repo.Transition(ctx, model.TransitionParams{
			ID:        session.ID,
			From:      []model.SessionStatus{model.SessionStatusAssetsReceived},
			To:        model.SessionStatusInProgress,
			At:        now,
			StartedAt: &now,
			ExpiresAt: &expires,
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, model.SessionStatusInProgress, updated.Status)
		require.NotNil(t, updated.ExpiresAt)
		assert.WithinDuration(t, expires, *updated.ExpiresAt, time.Millisecond)
	})

	t.Run("returns nil when status does not match", func(t *testing.T) {
		updated, err := repo.Transition(ctx, model.TransitionParams{
			ID:   session.ID,
			From: []model.SessionStatus{model.SessionStatusAssetsReceived},
			To:   model.SessionStatusInProgress,
			At:   time.Now(),
		})
		require.NoError(t, err)
		assert.Nil(t, updated)
	})

	t.Run("keeps unset fields", func(t *testing.T) {
		updated, err := repo.Transition(ctx, model.TransitionParams{
			ID:   session.ID,
			From: []model.SessionStatus{model.SessionStatusInProgress},
			To:   model.SessionStatusCompleted,
			At:   time.Now(),
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.NotNil(t, updated.StartedAt)
		assert.NotNil(t, updated.ExpiresAt)
	})
}

func TestSessionRepository_IncrementQuestionsUsed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewSessionRepository(db.DB)
	ctx := context.Background()
	session := createTestSession(t, repo, model.SessionStatusInProgress)

	for i := 1; i <= 2; i++ {
		updated, err := repo.IncrementQuestionsUsed(ctx, session.ID, time.Now())
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, i, updated.QuestionsUsed)
	}

	exhausted, err := repo.IncrementQuestionsUsed(ctx, session.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, exhausted)
}

func TestDeviceConnectionRepository_Liveness(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	sessions := NewSessionRepository(db.DB)
	repo := NewDeviceConnectionRepository(db.DB)
	ctx := context.Background()
	session := createTestSession(t, sessions, model.SessionStatusInProgress)

	now := time.Now().UTC().Truncate(time.Millisecond)
	fresh := now.Add(-119 * time.Second)
	stale := now.Add(-2 * time.Minute)

	_, err := repo.Create(ctx, model.CreateDeviceConnectionParams{
		ConnectionID: model.NewConnectionID(session.ID, model.DeviceTypeDesktop, fresh),
		SessionID:    session.ID,
		DeviceType:   model.DeviceTypeDesktop,
		LastPing:     fresh,
	})
	require.NoError(t, err)
	_, err = repo.Create(ctx, model.CreateDeviceConnectionParams{
		ConnectionID: model.NewConnectionID(session.ID, model.DeviceTypeMobile, stale),
		SessionID:    session.ID,
		DeviceType:   model.DeviceTypeMobile,
		LastPing:     stale,
	})
	require.NoError(t, err)

	active, err := repo.FindActiveBySession(ctx, session.ID, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.DeviceTypeDesktop, active[0].DeviceType)

	deleted, err := repo.DeleteStale(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	t.Run("touch unknown connection", func(t *testing.T) {
		ok, err := repo.Touch(ctx, session.ID, "missing", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("register then list returns the new connection", func(t *testing.T) {
		other := createTestSession(t, sessions, model.SessionStatusInProgress)
		params := model.CreateDeviceConnectionParams{
			ConnectionID: model.NewConnectionID(other.ID, model.DeviceTypeMobile, now),
			SessionID:    other.ID,
			DeviceType:   model.DeviceTypeMobile,
			LastPing:     now,
		}
		created, err := repo.Create(ctx, params)
		require.NoError(t, err)

		active, err := repo.FindActiveBySession(ctx, other.ID, now.Add(-2*time.Minute))
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, created.ConnectionID, active[0].ConnectionID)

		_, err = repo.Create(ctx, params)
		assert.ErrorIs(t, err, ErrConnectionExists)
	})
}

func TestEmailOTPRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewEmailOTPRepository(db.DB)
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"

	otp, err := repo.Create(ctx, model.CreateEmailOTPParams{
		ID:        uuid.NewString(),
		Email:     email,
		OTPHash:   "hash",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	})
	require.NoError(t, err)

	count, err := repo.CountSince(ctx, email, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := repo.FindLatestActive(ctx, email, time.Now(), 3)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, otp.ID, found.ID)

	ok, err := repo.MarkUsed(ctx, otp.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkUsed(ctx, otp.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err = repo.FindLatestActive(ctx, email, time.Now(), 3)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestEmailOTPRepository_LockEmail(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewEmailOTPRepository(db.DB)
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"

	t.Run("second transaction waits for the first", func(t *testing.T) {
		locked := make(chan struct{})
		release := make(chan struct{})
		firstDone := make(chan error, 1)

		go func() {
			firstDone <- db.WithTx(ctx, func(tx *sqlx.Tx) error {
				if err := repo.WithTx(tx).LockEmail(ctx, email); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		err := db.WithTx(waitCtx, func(tx *sqlx.Tx) error {
			return repo.WithTx(tx).LockEmail(waitCtx, email)
		})
		assert.Error(t, err)

		close(release)
		require.NoError(t, <-firstDone)

		require.NoError(t, db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return repo.WithTx(tx).LockEmail(ctx, email)
		}))
	})
}
