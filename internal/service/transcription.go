package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/sse"
)

const FallbackAnswer = "Sorry, I could not generate an answer at this time."

const answerPromptTemplate = `You are an AI interview assistant helping a candidate answer interview questions. You have access to their resume and the job description they're applying for.

IMPORTANT GUIDELINES:
- Provide specific, tailored answers that connect the candidate's experience to the job requirements
- Keep answers concise but comprehensive (2-3 sentences typically)
- Use first person ("I have experience with..." not "The candidate has...")
- Be confident and professional
- Include specific examples from the resume when relevant
- Address the question directly and completely
- If the question is about something not in the resume, provide a thoughtful general response

RESUME CONTENT:
%s

JOB DESCRIPTION:
%s

Please provide a tailored answer for the following interview question:`

type IngestParams struct {
	SessionID string
	Text      string
	Timestamp *time.Time
	Source    model.TranscriptSource
}

type IngestResult struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	SessionID          string `json:"sessionId"`
	TranscriptID       string `json:"transcriptId"`
	Answer             string `json:"answer"`
	QuestionsUsed      int    `json:"questionsUsed"`
	QuestionsIncluded  int    `json:"questionsIncluded"`
	RemainingQuestions int    `json:"remainingQuestions"`
}

type TranscriptionService struct {
	db          Transactor
	lifecycle   *LifecycleService
	sessions    repository.SessionRepository
	transcripts repository.TranscriptRepository
	documents   repository.DocumentRepository
	answers     AnswerGenerator
	events      EventPublisher
	now         clock
}

func NewTranscriptionService(
	db Transactor,
	lifecycle *LifecycleService,
	sessions repository.SessionRepository,
	transcripts repository.TranscriptRepository,
	documents repository.DocumentRepository,
	answers AnswerGenerator,
	events EventPublisher,
) *TranscriptionService {
	return &TranscriptionService{
		db:          db,
		lifecycle:   lifecycle,
		sessions:    sessions,
		transcripts: transcripts,
		documents:   documents,
		answers:     answers,
		events:      events,
		now:         systemClock,
	}
}

// Ingest appends a recognized question to a running session, charges the
// question quota and attaches a generated answer. The transcript row and the
// counter update commit together; the answer is filled in afterwards.
func (s *TranscriptionService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	text := strings.TrimSpace(params.Text)
	if params.SessionID == "" || text == "" {
		return nil, apperrors.ValidationError("Session ID and text are required")
	}

	source := params.Source
	if source == "" {
		source = model.TranscriptSourceWeb
	}
	if !source.Valid() {
		return nil, apperrors.InvalidInput("source", "must be web, extension, native or stream")
	}

	session, err := s.lifecycle.FindSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	session, err = s.lifecycle.EnsureLive(ctx, session)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsLive() {
		return nil, apperrors.InvalidState(fmt.Sprintf("Session is not active or in progress (current status: %s)", session.Status))
	}

	at := s.now()
	if params.Timestamp != nil && !params.Timestamp.IsZero() {
		at = params.Timestamp.UTC()
	}

	var (
		transcript *model.Transcript
		charged    *model.Session
	)
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		transcripts := s.transcripts.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		var err error
		transcript, err = transcripts.Create(ctx, model.CreateTranscriptParams{
			ID:           uuid.NewString(),
			SessionID:    session.ID,
			QuestionText: text,
			Source:       source,
			Timestamp:    at,
		})
		if err != nil {
			return fmt.Errorf("store transcript: %w", err)
		}

		charged, err = sessions.IncrementQuestionsUsed(ctx, session.ID, s.now())
		if err != nil {
			return fmt.Errorf("update questions counter: %w", err)
		}
		if charged == nil {
			return apperrors.QuotaExceeded("questions").WithDetails(map[string]int{
				"questionsUsed":     session.QuestionsUsed,
				"questionsIncluded": session.QuestionsIncluded,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.events, session.ID, sse.EventTranscript, transcript.ToEventData())

	answer, err := s.answer(ctx, session.ID, text)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to generate answer")
		answer = FallbackAnswer
	}

	if err := s.transcripts.SetAnswer(ctx, transcript.ID, answer); err != nil {
		log.Error().Err(err).Str("transcriptId", transcript.ID).Msg("failed to store answer")
	}
	transcript.GeneratedAnswer = &answer
	publishEvent(ctx, s.events, session.ID, sse.EventAnswer, transcript.ToEventData())

	log.Info().
		Str("sessionId", session.ID).
		Str("transcriptId", transcript.ID).
		Str("source", string(source)).
		Int("questionsUsed", charged.QuestionsUsed).
		Msg("transcription processed")

	return &IngestResult{
		Success:            true,
		Message:            "Transcription processed and answer generated successfully",
		SessionID:          session.ID,
		TranscriptID:       transcript.ID,
		Answer:             answer,
		QuestionsUsed:      charged.QuestionsUsed,
		QuestionsIncluded:  charged.QuestionsIncluded,
		RemainingQuestions: charged.RemainingQuestions(),
	}, nil
}

// GenerateAnswer answers an arbitrary question in the context of a session's
// documents without recording a transcript. Ended sessions are refused.
func (s *TranscriptionService) GenerateAnswer(ctx context.Context, sessionID, userID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if sessionID == "" || question == "" {
		return "", apperrors.ValidationError("Session ID and question are required")
	}
	session, err := s.lifecycle.FindSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if err := s.lifecycle.Authorize(session, userID); err != nil {
		return "", err
	}
	session, err = s.lifecycle.EnsureLive(ctx, session)
	if err != nil {
		return "", err
	}
	if session.Status == model.SessionStatusCompleted {
		return "", apperrors.InvalidState("Session has already ended")
	}

	answer, err := s.answer(ctx, sessionID, question)
	if err != nil {
		return "", apperrors.External("openai", err)
	}
	return answer, nil
}

// History returns a page of transcripts and the total count.
func (s *TranscriptionService) History(ctx context.Context, sessionID, userID string, limit, offset int) ([]model.Transcript, int, error) {
	session, err := s.lifecycle.FindSession(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.lifecycle.Authorize(session, userID); err != nil {
		return nil, 0, err
	}

	items, err := s.transcripts.FindBySessionID(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("find transcripts: %w", err)
	}
	total, err := s.transcripts.CountBySessionID(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("count transcripts: %w", err)
	}
	if items == nil {
		items = []model.Transcript{}
	}
	return items, total, nil
}

func (s *TranscriptionService) answer(ctx context.Context, sessionID, question string) (string, error) {
	if s.answers == nil {
		return "", fmt.Errorf("answer generation not configured")
	}

	docs, err := s.documents.FindBySessionID(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("find documents: %w", err)
	}
	return s.answers.Generate(ctx, BuildAnswerPrompt(docs), question)
}

// BuildAnswerPrompt assembles the system prompt from the session's resume and
// job description documents.
func BuildAnswerPrompt(docs []model.Document) string {
	var resume, job string
	for _, doc := range docs {
		switch doc.Type {
		case model.DocumentTypeResume:
			if doc.ParsedContent != nil {
				resume = *doc.ParsedContent
			}
		case model.DocumentTypeJobDescription:
			if doc.ParsedContent != nil && *doc.ParsedContent != "" {
				job = *doc.ParsedContent
			} else if strings.HasPrefix(doc.StoragePath, "http") {
				job = "Job posting URL: " + doc.StoragePath
			}
		}
	}

	if resume == "" {
		resume = "No resume content available"
	}
	if job == "" {
		job = "No job description available"
	}
	return fmt.Sprintf(answerPromptTemplate, resume, job)
}
