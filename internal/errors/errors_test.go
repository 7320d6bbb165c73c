package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "Database error")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "email", "reason": "invalid format"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"InvalidSignature", func() *AppError { return InvalidSignature() }, ErrCodeInvalidSignature},
		{"InvalidSessionCode", func() *AppError { return InvalidSessionCode() }, ErrCodeInvalidSessionCode},
		{"InvalidOTP", func() *AppError { return InvalidOTP() }, ErrCodeInvalidOTP},
		{"NotFound", func() *AppError { return NotFound("Session") }, ErrCodeNotFound},
		{"AlreadyExists", func() *AppError { return AlreadyExists("Session code") }, ErrCodeAlreadyExists},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("email", "invalid") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("email") }, ErrCodeMissingRequired},
		{"InvalidState", func() *AppError { return InvalidState("test") }, ErrCodeInvalidState},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"SessionExpired", func() *AppError { return SessionExpired() }, ErrCodeSessionExpired},
		{"InvalidDeviceMode", func() *AppError { return InvalidDeviceMode() }, ErrCodeInvalidDeviceMode},
		{"QuotaExceeded", func() *AppError { return QuotaExceeded("questions") }, ErrCodeQuotaExceeded},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("openai", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "openai")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("returns true for wrapped AppError", func(t *testing.T) {
		appErr := New(ErrCodeNotFound, "test")
		wrapped := fmt.Errorf("load session: %w", appErr)
		assert.True(t, IsAppError(wrapped))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Session not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.Equal(t, ErrCodeNotFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestNotFoundMessage(t *testing.T) {
	t.Run("formats resource name correctly", func(t *testing.T) {
		err := NotFound("Session")
		assert.Equal(t, "Session not found", err.Message)

		err = NotFound("Device connection")
		assert.Equal(t, "Device connection not found", err.Message)
	})
}

func TestMissingRequiredMessage(t *testing.T) {
	t.Run("formats field name correctly", func(t *testing.T) {
		err := MissingRequired("email")
		assert.Equal(t, "email is required", err.Message)

		err = MissingRequired("sessionId")
		assert.Equal(t, "sessionId is required", err.Message)
	})
}
