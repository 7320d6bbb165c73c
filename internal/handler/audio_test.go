package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/interviewace/session-server/internal/audio"
	"github.com/interviewace/session-server/internal/capture"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
)

type fakeBlockTranscriber struct {
	mu     sync.Mutex
	blocks [][]float32
}

func (f *fakeBlockTranscriber) TranscribeSamples(ctx context.Context, samples []float32) (*service.SpeechResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, samples)
	return &service.SpeechResult{Text: "What is Go?", Success: true}, nil
}

type fakeIngester struct {
	mu     sync.Mutex
	params []service.IngestParams
	err    error
}

func (f *fakeIngester) Ingest(ctx context.Context, params service.IngestParams) (*service.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &service.IngestResult{Success: true, TranscriptID: "tr-1", Answer: "A language."}, nil
}

func (f *fakeIngester) sources() []model.TranscriptSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TranscriptSource, len(f.params))
	for i, p := range f.params {
		out[i] = p.Source
	}
	return out
}

func startAudioServer(t *testing.T, h *AudioStreamHandler) string {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v1/sessions/{sessionID}/audio", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + testSessionID + "/audio"
}

func receive(t *testing.T, ws *websocket.Conn) capture.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg capture.Message
	require.NoError(t, websocket.JSON.Receive(ws, &msg))
	return msg
}

func TestAudioStreamHandler(t *testing.T) {
	live := &fakeStatusReader{result: statusOf(service.Countdown{RemainingSeconds: 1800})}

	t.Run("transcribes full blocks and text control messages", func(t *testing.T) {
		speech := &fakeBlockTranscriber{}
		ingester := &fakeIngester{}
		url := startAudioServer(t, NewAudioStreamHandler(live, speech, ingester, 4, 48000))

		ws, err := websocket.Dial(url, "", "http://localhost")
		require.NoError(t, err)
		defer ws.Close()

		greeting := receive(t, ws)
		assert.Equal(t, capture.MsgExtensionReady, greeting.Type)
		assert.True(t, greeting.Supports(capture.CapabilityStream))
		assert.Equal(t, 48000, greeting.SampleRate)

		require.NoError(t, websocket.Message.Send(ws, audio.EncodeFloat32LE([]float32{0.1, 0.2, 0.3, 0.4, 0.5})))
		msg := receive(t, ws)
		assert.Equal(t, capture.MsgTranscript, msg.Type)
		assert.Equal(t, "What is Go?", msg.Text)
		assert.Equal(t, "A language.", msg.Answer)

		require.NoError(t, websocket.JSON.Send(ws, capture.Message{Type: capture.MsgProcessTranscription, Text: "Typed question"}))
		msg = receive(t, ws)
		assert.Equal(t, capture.MsgTranscript, msg.Type)
		assert.Equal(t, "Typed question", msg.Text)

		require.NoError(t, websocket.JSON.Send(ws, capture.Message{Type: capture.MsgStopCapture}))
		msg = receive(t, ws)
		assert.Equal(t, capture.MsgTranscript, msg.Type, "remaining sample is flushed")
		assert.Equal(t, capture.MsgCaptureStopped, receive(t, ws).Type)

		assert.Equal(t, []model.TranscriptSource{
			model.TranscriptSourceStream,
			model.TranscriptSourceExtension,
			model.TranscriptSourceStream,
		}, ingester.sources())

		speech.mu.Lock()
		defer speech.mu.Unlock()
		require.Len(t, speech.blocks, 2)
		assert.Len(t, speech.blocks[0], 4)
		assert.Equal(t, []float32{0.5}, speech.blocks[1])
	})

	t.Run("malformed frame is reported and the stream continues", func(t *testing.T) {
		url := startAudioServer(t, NewAudioStreamHandler(live, &fakeBlockTranscriber{}, &fakeIngester{}, 4, 48000))

		ws, err := websocket.Dial(url, "", "http://localhost")
		require.NoError(t, err)
		defer ws.Close()
		receive(t, ws)

		require.NoError(t, websocket.Message.Send(ws, []byte{1, 2, 3}))
		msg := receive(t, ws)
		assert.Equal(t, capture.MsgError, msg.Type)
		assert.Equal(t, string(apperrors.ErrCodeInvalidInput), msg.Code)

		require.NoError(t, websocket.JSON.Send(ws, capture.Message{Type: capture.MsgStopCapture}))
		assert.Equal(t, capture.MsgCaptureStopped, receive(t, ws).Type)
	})

	t.Run("expired session closes the socket", func(t *testing.T) {
		ingester := &fakeIngester{err: apperrors.SessionExpired()}
		url := startAudioServer(t, NewAudioStreamHandler(live, &fakeBlockTranscriber{}, ingester, 4, 48000))

		ws, err := websocket.Dial(url, "", "http://localhost")
		require.NoError(t, err)
		defer ws.Close()
		receive(t, ws)

		require.NoError(t, websocket.JSON.Send(ws, capture.Message{Type: capture.MsgProcessTranscription, Text: "late"}))
		msg := receive(t, ws)
		assert.Equal(t, capture.MsgError, msg.Type)
		assert.Equal(t, string(apperrors.ErrCodeSessionExpired), msg.Code)

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var next capture.Message
		assert.Error(t, websocket.JSON.Receive(ws, &next))
	})

	t.Run("handshake is refused once the session is over", func(t *testing.T) {
		over := &fakeStatusReader{result: statusOf(service.Countdown{Expired: true})}
		url := startAudioServer(t, NewAudioStreamHandler(over, &fakeBlockTranscriber{}, &fakeIngester{}, 4, 48000))

		_, err := websocket.Dial(url, "", "http://localhost")

		assert.Error(t, err)
	})
}
