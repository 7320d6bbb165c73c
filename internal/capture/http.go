package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/audio"
)

const (
	httpRequestTimeout = 30 * time.Second
	maxErrorBodySize   = 4 << 10
)

// HTTPRelay buffers frames into blocks and posts each block to speech-to-text,
// then submits the recognized text to process-transcription.
type HTTPRelay struct {
	cfg    RelayConfig
	client *http.Client
	buffer *audio.Buffer
}

func NewHTTPRelay(cfg RelayConfig) *HTTPRelay {
	cfg = cfg.withDefaults()
	return &HTTPRelay{
		cfg:    cfg,
		client: &http.Client{Timeout: httpRequestTimeout},
		buffer: audio.NewBuffer(cfg.BlockSamples),
	}
}

func (r *HTTPRelay) Open(ctx context.Context) error {
	return nil
}

func (r *HTTPRelay) Send(ctx context.Context, frame []float32) error {
	for _, block := range r.buffer.Append(frame) {
		if err := r.submit(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

func (r *HTTPRelay) Close(ctx context.Context) error {
	rest := r.buffer.Flush()
	if len(rest) == 0 {
		return nil
	}
	return r.submit(ctx, rest)
}

type speechResponse struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

type transcriptionResponse struct {
	TranscriptID string `json:"transcriptId"`
	Answer       string `json:"answer"`
}

func (r *HTTPRelay) submit(ctx context.Context, block []float32) error {
	var speech speechResponse
	if err := r.post(ctx, "/v1/speech-to-text", map[string]any{"audioData": block}, &speech); err != nil {
		return err
	}
	if speech.Text == "" {
		return nil
	}

	var result transcriptionResponse
	err := r.post(ctx, "/v1/process-transcription", map[string]any{
		"sessionId": r.cfg.SessionID,
		"text":      speech.Text,
		"timestamp": time.Now().UTC(),
		"source":    "native",
	}, &result)
	if err != nil {
		return err
	}

	r.cfg.OnTranscript(Message{
		Type:         MsgTranscript,
		SessionID:    r.cfg.SessionID,
		Text:         speech.Text,
		Answer:       result.Answer,
		TranscriptID: result.TranscriptID,
	})
	return nil
}

func (r *HTTPRelay) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, errBody)
	}

	log.Debug().Str("path", path).Dur("elapsed", time.Since(start)).Msg("relay request successful")
	return json.NewDecoder(resp.Body).Decode(out)
}
