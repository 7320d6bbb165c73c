package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"

	"github.com/interviewace/session-server/internal/config"
)

const (
	defaultAnswerModel = "gpt-4o-mini"
	answerTemperature  = 0.7
	answerMaxTokens    = 500
	transcribeLanguage = "en"
)

// AnswerGenerator produces an interview answer from a system prompt and the question.
type AnswerGenerator interface {
	Generate(ctx context.Context, systemPrompt, question string) (string, error)
}

// Transcriber turns an encoded audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName, contentType string) (string, error)
}

// OpenAIClient implements AnswerGenerator with chat completions and
// Transcriber with Whisper.
type OpenAIClient struct {
	client openaiclient.Client
	model  string
}

// NewOpenAIClient returns nil when no API key is configured.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		return nil
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
		openaioption.WithRequestTimeout(config.ExternalRequestTimeout),
	}
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		opts = append(opts, openaioption.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}

	model := strings.TrimSpace(cfg.AnswerModel)
	if model == "" {
		model = defaultAnswerModel
	}

	return &OpenAIClient{
		client: openaiclient.NewClient(opts...),
		model:  model,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, question string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openaiclient.ChatCompletionNewParams{
		Model: openaiclient.ChatModel(c.model),
		Messages: []openaiclient.ChatCompletionMessageParamUnion{
			openaiclient.SystemMessage(systemPrompt),
			openaiclient.UserMessage(question),
		},
		Temperature: openaiclient.Float(answerTemperature),
		MaxTokens:   openaiclient.Int(answerMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("chat completion returned an empty answer")
	}
	return answer, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, fileName, contentType string) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, openaiclient.AudioTranscriptionNewParams{
		File:     openaiclient.File(bytes.NewReader(audio), fileName, contentType),
		Model:    openaiclient.AudioModelWhisper1,
		Language: openaiclient.String(transcribeLanguage),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
