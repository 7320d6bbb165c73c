package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/interviewace/session-server/internal/audio"
	"github.com/interviewace/session-server/internal/capture"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/service"
)

const audioBlockQueue = 4

type SamplesTranscriber interface {
	TranscribeSamples(ctx context.Context, samples []float32) (*service.SpeechResult, error)
}

type TranscriptIngester interface {
	Ingest(ctx context.Context, params service.IngestParams) (*service.IngestResult, error)
}

// AudioStreamHandler serves the streaming audio socket of a session.
type AudioStreamHandler struct {
	sessions   SessionStatusReader
	speech     SamplesTranscriber
	ingester   TranscriptIngester
	blockSize  int
	sampleRate int
}

func NewAudioStreamHandler(sessions SessionStatusReader, speech SamplesTranscriber, ingester TranscriptIngester, blockSize, sampleRate int) *AudioStreamHandler {
	return &AudioStreamHandler{
		sessions:   sessions,
		speech:     speech,
		ingester:   ingester,
		blockSize:  blockSize,
		sampleRate: sampleRate,
	}
}

// wsFrame keeps the payload type, which the stock codecs discard.
type wsFrame struct {
	binary bool
	data   []byte
}

var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		data, err := json.Marshal(v)
		return data, websocket.TextFrame, err
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f := v.(*wsFrame)
		f.binary = payloadType == websocket.BinaryFrame
		f.data = data
		return nil
	},
}

// GET /v1/sessions/{sessionID}/audio
func (h *AudioStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.sessions.Status(r.Context(), sessionID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if status.Countdown.Expired {
		writeError(w, r, apperrors.SessionExpired())
		return
	}

	server := websocket.Server{
		// Native helpers connect without an Origin header.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			h.stream(ws, sessionID)
		},
	}
	server.ServeHTTP(w, r)
}

type audioStream struct {
	h         *AudioStreamHandler
	ws        *websocket.Conn
	sessionID string
	buffer    *audio.Buffer
	blocks    chan []float32
	ctx       context.Context
	cancel    context.CancelFunc
}

func (h *AudioStreamHandler) stream(ws *websocket.Conn, sessionID string) {
	defer ws.Close()

	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	s := &audioStream{
		h:         h,
		ws:        ws,
		sessionID: sessionID,
		buffer:    audio.NewBuffer(h.blockSize),
		blocks:    make(chan []float32, audioBlockQueue),
		ctx:       ctx,
		cancel:    cancel,
	}

	log.Info().Str("sessionId", sessionID).Msg("audio stream connected")

	if err := s.send(capture.Message{
		Type:         capture.MsgExtensionReady,
		SessionID:    sessionID,
		Capabilities: capture.ServerCapabilities(),
		SampleRate:   h.sampleRate,
	}); err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.transcribeBlocks()
	}()

	stopped := s.readLoop()

	close(s.blocks)
	wg.Wait()

	if stopped {
		_ = s.send(capture.Message{Type: capture.MsgCaptureStopped, SessionID: sessionID})
	}
	log.Info().Str("sessionId", sessionID).Bool("stopped", stopped).Msg("audio stream closed")
}

// readLoop consumes frames until the peer leaves or asks to stop. It reports
// whether the stream ended with stopCapture.
func (s *audioStream) readLoop() bool {
	for {
		var frame wsFrame
		if err := frameCodec.Receive(s.ws, &frame); err != nil {
			return false
		}
		if s.ctx.Err() != nil {
			return false
		}

		if frame.binary {
			samples, err := audio.DecodeFloat32LE(frame.data)
			if err != nil {
				s.sendError(apperrors.InvalidInput("audio", "frame is not float32 PCM"))
				continue
			}
			for _, block := range s.buffer.Append(samples) {
				if !s.enqueue(block) {
					return false
				}
			}
			continue
		}

		var msg capture.Message
		if err := json.Unmarshal(frame.data, &msg); err != nil {
			s.sendError(apperrors.ValidationError("Invalid control message"))
			continue
		}

		switch msg.Type {
		case capture.MsgProcessTranscription:
			s.ingest(msg.Text, model.TranscriptSourceExtension)
		case capture.MsgStopCapture:
			if rest := s.buffer.Flush(); len(rest) > 0 {
				s.enqueue(rest)
			}
			return true
		default:
			log.Debug().Str("sessionId", s.sessionID).Str("type", string(msg.Type)).Msg("ignoring control message")
		}
	}
}

func (s *audioStream) enqueue(block []float32) bool {
	select {
	case s.blocks <- block:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *audioStream) transcribeBlocks() {
	for block := range s.blocks {
		if s.ctx.Err() != nil {
			continue
		}

		result, err := s.h.speech.TranscribeSamples(s.ctx, block)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", s.sessionID).Msg("block transcription failed")
			s.sendError(err)
			continue
		}
		if result.Text == "" {
			continue
		}
		s.ingest(result.Text, model.TranscriptSourceStream)
	}
}

func (s *audioStream) ingest(text string, source model.TranscriptSource) {
	result, err := s.h.ingester.Ingest(s.ctx, service.IngestParams{
		SessionID: s.sessionID,
		Text:      text,
		Source:    source,
	})
	if err != nil {
		s.sendError(err)
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeSessionExpired, apperrors.ErrCodeInvalidState, apperrors.ErrCodeQuotaExceeded:
			s.cancel()
			s.ws.Close()
		}
		return
	}

	_ = s.send(capture.Message{
		Type:         capture.MsgTranscript,
		SessionID:    s.sessionID,
		Text:         text,
		Answer:       result.Answer,
		TranscriptID: result.TranscriptID,
	})
}

func (s *audioStream) send(msg capture.Message) error {
	if err := frameCodec.Send(s.ws, msg); err != nil {
		log.Debug().Err(err).Str("sessionId", s.sessionID).Msg("audio stream write failed")
		return err
	}
	return nil
}

func (s *audioStream) sendError(err error) {
	msg := capture.Message{Type: capture.MsgError, Code: string(apperrors.ErrCodeInternal), Error: "Internal server error"}
	if appErr, ok := apperrors.AsAppError(err); ok {
		msg.Code = string(appErr.Code)
		msg.Error = appErr.Message
	}
	_ = s.send(msg)
}
