package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/interviewace/session-server/internal/model"
)

type TranscriptRepository interface {
	Create(ctx context.Context, params model.CreateTranscriptParams) (*model.Transcript, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Transcript, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	SetAnswer(ctx context.Context, id string, answer string) error
	WithTx(tx *sqlx.Tx) TranscriptRepository
}

type transcriptRepo struct {
	db dbtx
}

func NewTranscriptRepository(db *sqlx.DB) TranscriptRepository {
	return &transcriptRepo{db: db}
}

func (r *transcriptRepo) WithTx(tx *sqlx.Tx) TranscriptRepository {
	return &transcriptRepo{db: tx}
}

func (r *transcriptRepo) Create(ctx context.Context, params model.CreateTranscriptParams) (*model.Transcript, error) {
	var t model.Transcript
	err := r.db.GetContext(ctx, &t, `
		INSERT INTO transcripts (id, session_id, question_text, source, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.ID, params.SessionID, params.QuestionText, params.Source, params.Timestamp)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transcriptRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Transcript, error) {
	transcripts := []model.Transcript{}
	err := r.db.SelectContext(ctx, &transcripts, `
		SELECT * FROM transcripts
		WHERE session_id = $1
		ORDER BY timestamp ASC, created_at ASC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return transcripts, err
}

func (r *transcriptRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM transcripts WHERE session_id = $1
	`, sessionID)
	return count, err
}

func (r *transcriptRepo) SetAnswer(ctx context.Context, id string, answer string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transcripts SET generated_answer = $2 WHERE id = $1
	`, id, answer)
	return err
}
