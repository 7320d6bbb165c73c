package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/interviewace/session-server/internal/errors"
)

func TestWriteError(t *testing.T) {
	t.Run("maps app error code to status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.InvalidDeviceMode())

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeInvalidDeviceMode, body.Code)
		assert.Equal(t, "Session is not in cross-device mode", body.Error)
	})

	t.Run("hides unknown errors behind internal error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	})

	t.Run("unwraps wrapped app errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.Join(errors.New("context"), apperrors.SessionExpired()))

		assert.Equal(t, http.StatusGone, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[apperrors.ErrorCode]int{
		apperrors.ErrCodeInvalidSignature:   http.StatusBadRequest,
		apperrors.ErrCodeInvalidSessionCode: http.StatusUnauthorized,
		apperrors.ErrCodeQuotaExceeded:      http.StatusPaymentRequired,
		apperrors.ErrCodeForbidden:          http.StatusForbidden,
		apperrors.ErrCodeNotFound:           http.StatusNotFound,
		apperrors.ErrCodeInvalidState:       http.StatusConflict,
		apperrors.ErrCodeSessionExpired:     http.StatusGone,
		apperrors.ErrCodeRateLimitExceeded:  http.StatusTooManyRequests,
		apperrors.ErrCodeExternal:           http.StatusBadGateway,
		apperrors.ErrCodeDatabase:           http.StatusInternalServerError,
	}

	for code, status := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, status, StatusFor(apperrors.New(code, "x")))
		})
	}
}
