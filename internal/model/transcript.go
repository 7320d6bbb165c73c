package model

import (
	"encoding/json"
	"time"
)

type Transcript struct {
	ID              string           `db:"id" json:"id"`
	SessionID       string           `db:"session_id" json:"sessionId"`
	QuestionText    string           `db:"question_text" json:"questionText"`
	GeneratedAnswer *string          `db:"generated_answer" json:"generatedAnswer,omitempty"`
	Source          TranscriptSource `db:"source" json:"source"`
	Timestamp       time.Time        `db:"timestamp" json:"timestamp"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
}

// ToEventData renders the transcript as realtime event payload.
func (t *Transcript) ToEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":              t.ID,
		"sessionId":       t.SessionID,
		"questionText":    t.QuestionText,
		"generatedAnswer": t.GeneratedAnswer,
		"source":          t.Source,
		"timestamp":       t.Timestamp.Format(time.RFC3339Nano),
	})
	return data
}

type CreateTranscriptParams struct {
	ID           string
	SessionID    string
	QuestionText string
	Source       TranscriptSource
	Timestamp    time.Time
}

type Document struct {
	ID            string       `db:"id" json:"id"`
	SessionID     string       `db:"session_id" json:"sessionId"`
	Type          DocumentType `db:"type" json:"type"`
	Filename      string       `db:"filename" json:"filename"`
	MimeType      string       `db:"mime_type" json:"mimeType"`
	FileSize      int64        `db:"file_size" json:"fileSize"`
	StoragePath   string       `db:"storage_path" json:"storagePath"`
	ParsedContent *string      `db:"parsed_content" json:"-"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
}

type CreateDocumentParams struct {
	ID            string
	SessionID     string
	Type          DocumentType
	Filename      string
	MimeType      string
	FileSize      int64
	StoragePath   string
	ParsedContent *string
}
