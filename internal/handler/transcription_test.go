package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/interviewace/session-server/internal/audio"
	"github.com/interviewace/session-server/internal/service"
)

type fakeTranscriber struct {
	text        string
	err         error
	contentType string
	wav         bool
	calls       int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte, fileName, contentType string) (string, error) {
	f.calls++
	f.contentType = contentType
	f.wav = audio.IsWAV(data)
	return f.text, f.err
}

func newTranscriptionHandler(transcriber service.Transcriber) (*TranscriptionHandler, *mockSessionRepo) {
	sessions := new(mockSessionRepo)
	documents := new(mockDocumentRepo)
	lifecycle := newLifecycle(sessions, documents)
	transcription := service.NewTranscriptionService(fakeTx{}, lifecycle, sessions, new(mockTranscriptRepo), documents, nil, &recordingPublisher{})
	return NewTranscriptionHandler(transcription, service.NewSpeechService(transcriber, 48000)), sessions
}

func TestTranscriptionHandler_SpeechToText(t *testing.T) {
	t.Run("raw samples are sent as wav", func(t *testing.T) {
		transcriber := &fakeTranscriber{text: "tell me about yourself"}
		h, _ := newTranscriptionHandler(transcriber)

		req := httptest.NewRequest(http.MethodPost, "/v1/speech-to-text", bytes.NewBufferString(`{"audioData":[0.1,-0.2,0.3]}`))
		rec := httptest.NewRecorder()

		h.SpeechToText(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "tell me about yourself", body["text"])
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "audio/wav", transcriber.contentType)
		assert.True(t, transcriber.wav)
	})

	t.Run("no audio is a validation error", func(t *testing.T) {
		transcriber := &fakeTranscriber{}
		h, _ := newTranscriptionHandler(transcriber)

		req := httptest.NewRequest(http.MethodPost, "/v1/speech-to-text", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()

		h.SpeechToText(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, transcriber.calls)
	})

	t.Run("upstream failure is 502", func(t *testing.T) {
		h, _ := newTranscriptionHandler(&fakeTranscriber{err: errors.New("whisper down")})

		req := httptest.NewRequest(http.MethodPost, "/v1/speech-to-text", bytes.NewBufferString(`{"audio":"aGVsbG8="}`))
		rec := httptest.NewRecorder()

		h.SpeechToText(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestTranscriptionHandler_GenerateAnswer(t *testing.T) {
	t.Run("question is required", func(t *testing.T) {
		h, sessions := newTranscriptionHandler(nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/generate-interview-answer", bytes.NewBufferString(`{"sessionId":"`+testSessionID+`"}`))
		rec := httptest.NewRecorder()

		h.GenerateAnswer(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		sessions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("session owned by another user is 403", func(t *testing.T) {
		h, sessions := newTranscriptionHandler(nil)
		owned := runningSession(time.Hour)
		owned.UserID = strPtr("owner")
		sessions.On("FindByID", mock.Anything, testSessionID).Return(owned, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/generate-interview-answer", bytes.NewBufferString(`{"sessionId":"`+testSessionID+`","question":"Why Go?"}`))
		req = withUserID(req, "intruder")
		rec := httptest.NewRecorder()

		h.GenerateAnswer(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTranscriptionHandler_ProcessTranscription(t *testing.T) {
	t.Run("empty text is rejected", func(t *testing.T) {
		h, _ := newTranscriptionHandler(nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/process-transcription", bytes.NewBufferString(`{"sessionId":"`+testSessionID+`","text":"  "}`))
		rec := httptest.NewRecorder()

		h.ProcessTranscription(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown source is rejected", func(t *testing.T) {
		h, _ := newTranscriptionHandler(nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/process-transcription", bytes.NewBufferString(`{"sessionId":"`+testSessionID+`","text":"hi","source":"fax"}`))
		rec := httptest.NewRecorder()

		h.ProcessTranscription(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
