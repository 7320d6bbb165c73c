package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/interviewace/session-server/internal/model"
)

type DocumentRepository interface {
	Create(ctx context.Context, params model.CreateDocumentParams) (*model.Document, error)
	FindBySessionID(ctx context.Context, sessionID string) ([]model.Document, error)
	WithTx(tx *sqlx.Tx) DocumentRepository
}

type documentRepo struct {
	db dbtx
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) WithTx(tx *sqlx.Tx) DocumentRepository {
	return &documentRepo{db: tx}
}

func (r *documentRepo) Create(ctx context.Context, params model.CreateDocumentParams) (*model.Document, error) {
	var doc model.Document
	err := r.db.GetContext(ctx, &doc, `
		INSERT INTO documents (id, session_id, type, filename, mime_type, file_size, storage_path, parsed_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.ID, params.SessionID, params.Type, params.Filename, params.MimeType,
		params.FileSize, params.StoragePath, params.ParsedContent)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) FindBySessionID(ctx context.Context, sessionID string) ([]model.Document, error) {
	docs := []model.Document{}
	err := r.db.SelectContext(ctx, &docs, `
		SELECT * FROM documents WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	return docs, err
}
