package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Mode string

const (
	ModeStream Mode = "stream"
	ModeHTTP   Mode = "http"
	// ModeAuto prefers the stream socket and falls back to HTTP when the
	// server cannot be reached or does not advertise PCM streaming.
	ModeAuto Mode = "auto"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultBlockSamples   = FrameSamples * 32
)

var ErrUnsupported = errors.New("server does not support pcm streaming")

type RelayConfig struct {
	Mode           Mode
	ServerURL      string
	SessionID      string
	Token          string
	ConnectTimeout time.Duration
	// BlockSamples is how many samples the HTTP relay buffers per request.
	BlockSamples int
	// OnTranscript receives every transcript the server reports back.
	OnTranscript func(Message)
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.BlockSamples <= 0 {
		c.BlockSamples = DefaultBlockSamples
	}
	if c.OnTranscript == nil {
		c.OnTranscript = func(Message) {}
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return c
}

// NewRelay builds the relay for cfg.Mode.
func NewRelay(cfg RelayConfig) (Relay, error) {
	cfg = cfg.withDefaults()
	if cfg.ServerURL == "" {
		return nil, errors.New("server url is required")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("session id is required")
	}

	switch cfg.Mode {
	case ModeStream:
		return NewStreamRelay(cfg)
	case ModeHTTP:
		return NewHTTPRelay(cfg), nil
	case ModeAuto, "":
		stream, err := NewStreamRelay(cfg)
		if err != nil {
			return nil, err
		}
		return &fallbackRelay{primary: stream, fallback: NewHTTPRelay(cfg)}, nil
	default:
		return nil, fmt.Errorf("unknown relay mode %q", cfg.Mode)
	}
}

// streamURL maps the server's http(s) base to the session's audio socket.
func streamURL(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/audio"
	return u.String(), nil
}

// fallbackRelay picks its delegate once, in Open.
type fallbackRelay struct {
	primary  Relay
	fallback Relay
	active   Relay
}

func (r *fallbackRelay) Open(ctx context.Context) error {
	err := r.primary.Open(ctx)
	if err == nil {
		r.active = r.primary
		return nil
	}

	log.Warn().Err(err).Msg("stream relay unavailable, using http")
	_ = r.primary.Close(ctx)

	if err := r.fallback.Open(ctx); err != nil {
		return err
	}
	r.active = r.fallback
	return nil
}

func (r *fallbackRelay) Send(ctx context.Context, frame []float32) error {
	if r.active == nil {
		return errors.New("relay not open")
	}
	return r.active.Send(ctx, frame)
}

func (r *fallbackRelay) Close(ctx context.Context) error {
	if r.active == nil {
		return nil
	}
	err := r.active.Close(ctx)
	r.active = nil
	return err
}
