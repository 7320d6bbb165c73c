package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/interviewace/session-server/internal/audio"
)

// StreamRelay sends every frame over the server's audio socket as binary
// float32 PCM and reports the transcripts the server pushes back.
type StreamRelay struct {
	cfg      RelayConfig
	endpoint string

	mu       sync.Mutex
	conn     *websocket.Conn
	readDone chan struct{}
}

func NewStreamRelay(cfg RelayConfig) (*StreamRelay, error) {
	cfg = cfg.withDefaults()
	endpoint, err := streamURL(cfg.ServerURL, cfg.SessionID)
	if err != nil {
		return nil, err
	}
	return &StreamRelay{cfg: cfg, endpoint: endpoint}, nil
}

func (r *StreamRelay) Open(ctx context.Context) error {
	wsConfig, err := websocket.NewConfig(r.endpoint, r.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}
	if r.cfg.Token != "" {
		wsConfig.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	conn, err := wsConfig.DialContext(dialCtx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.endpoint, err)
	}

	greeting, err := readGreeting(conn, r.cfg.ConnectTimeout)
	if err != nil {
		conn.Close()
		return err
	}
	if !greeting.Supports(CapabilityPCMFloat32LE) {
		conn.Close()
		return ErrUnsupported
	}

	readDone := make(chan struct{})
	r.mu.Lock()
	r.conn = conn
	r.readDone = readDone
	r.mu.Unlock()

	go r.readLoop(conn, readDone)

	log.Info().
		Str("endpoint", r.endpoint).
		Strs("capabilities", greeting.Capabilities).
		Msg("audio stream connected")
	return nil
}

func readGreeting(conn *websocket.Conn, timeout time.Duration) (Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Message{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	var greeting Message
	if err := websocket.JSON.Receive(conn, &greeting); err != nil {
		return Message{}, fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Type != MsgExtensionReady {
		return Message{}, fmt.Errorf("unexpected greeting %q", greeting.Type)
	}
	return greeting, nil
}

func (r *StreamRelay) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var msg Message
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case MsgTranscript:
			r.cfg.OnTranscript(msg)
		case MsgError:
			log.Warn().Str("code", msg.Code).Str("error", msg.Error).Msg("server reported stream error")
		case MsgCaptureStopped:
			return
		}
	}
}

func (r *StreamRelay) Send(ctx context.Context, frame []float32) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream relay not open")
	}
	return websocket.Message.Send(conn, audio.EncodeFloat32LE(frame))
}

// Close asks the server to flush the partial block and waits for its
// acknowledgement before closing the socket.
func (r *StreamRelay) Close(ctx context.Context) error {
	r.mu.Lock()
	conn, readDone := r.conn, r.readDone
	r.conn, r.readDone = nil, nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	defer conn.Close()

	if err := websocket.JSON.Send(conn, Message{Type: MsgStopCapture}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}

	select {
	case <-readDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
