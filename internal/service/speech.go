package service

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/audio"
	apperrors "github.com/interviewace/session-server/internal/errors"
)

type SpeechRequest struct {
	// Audio is a base64 encoded audio file (WAV or webm).
	Audio string
	// Samples is raw mono PCM in [-1, 1].
	Samples []float32
}

type SpeechResult struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

type SpeechService struct {
	transcriber Transcriber
	sampleRate  int
}

func NewSpeechService(transcriber Transcriber, sampleRate int) *SpeechService {
	return &SpeechService{transcriber: transcriber, sampleRate: sampleRate}
}

// Transcribe forwards encoded audio to the transcriber. Raw samples are first
// wrapped in a 16-bit mono WAV at the configured sample rate.
func (s *SpeechService) Transcribe(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	var data []byte
	switch {
	case len(req.Samples) > 0:
		data = audio.EncodeWAV(req.Samples, s.sampleRate)
	case req.Audio != "":
		decoded, err := base64.StdEncoding.DecodeString(stripDataURL(req.Audio))
		if err != nil {
			return nil, apperrors.InvalidInput("audio", "must be base64 encoded")
		}
		data = decoded
	default:
		return nil, apperrors.ValidationError("No audio data provided")
	}

	return s.transcribe(ctx, data)
}

// TranscribeSamples is used by the streaming socket for each full audio block.
func (s *SpeechService) TranscribeSamples(ctx context.Context, samples []float32) (*SpeechResult, error) {
	if len(samples) == 0 {
		return &SpeechResult{Success: true}, nil
	}
	return s.transcribe(ctx, audio.EncodeWAV(samples, s.sampleRate))
}

func (s *SpeechService) transcribe(ctx context.Context, data []byte) (*SpeechResult, error) {
	if s.transcriber == nil {
		return nil, apperrors.Internal("Speech-to-text is not configured")
	}

	fileName, contentType := "audio.webm", "audio/webm"
	if audio.IsWAV(data) {
		fileName, contentType = "audio.wav", "audio/wav"
	}

	text, err := s.transcriber.Transcribe(ctx, data, fileName, contentType)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(data)).Msg("speech-to-text failed")
		return nil, apperrors.External("openai", err)
	}

	log.Debug().Int("bytes", len(data)).Int("chars", len(text)).Msg("speech transcribed")
	return &SpeechResult{Text: text, Success: true}, nil
}

func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
