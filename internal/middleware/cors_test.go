package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	unreachable := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	t.Run("preflight is answered directly", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/process-transcription", nil)
		req.Header.Set("Origin", "https://app.interviewace.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
		rec := httptest.NewRecorder()
		CORS(unreachable).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Contains(t, allowed, "authorization")
		assert.Contains(t, allowed, "content-type")
	})

	t.Run("preflight with unknown header is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/process-transcription", nil)
		req.Header.Set("Origin", "https://app.interviewace.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "x-forwarded-secret")
		rec := httptest.NewRecorder()
		CORS(unreachable).ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("bare options is ok", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS(unreachable).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/send-otp-email", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("normal request carries headers", func(t *testing.T) {
		handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/send-otp-email", nil)
		req.Header.Set("Origin", "https://mobile.interviewace.test")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(8).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", bytes.NewBufferString("{}")))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("declared length over limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"a":"0123456789"}`)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
