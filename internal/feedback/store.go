// Package feedback records human corrections of past turns and folds them into the domain model.
package feedback

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/nlu/domain"
)

const DefaultTable = "assistant_feedback"

// Correction is one stored correction row.
type Correction struct {
	ID              string     `db:"id" json:"id"`
	SessionID       string     `db:"session_id" json:"sessionId,omitempty"`
	Text            string     `db:"text" json:"text"`
	Language        string     `db:"language" json:"language"`
	PredictedIntent string     `db:"predicted_intent" json:"predictedIntent,omitempty"`
	CorrectIntent   string     `db:"correct_intent" json:"correctIntent,omitempty"`
	Entities        EntityList `db:"entities" json:"entities,omitempty"`
	SubmittedBy     string     `db:"submitted_by" json:"submittedBy,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	AppliedAt       *time.Time `db:"applied_at" json:"appliedAt,omitempty"`

	// Embedding is written on Record and never read back.
	Embedding []float32 `db:"-" json:"-"`
}

type CorrectedEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Text  string `json:"text,omitempty"`
}

// EntityList is stored as a JSONB column.
type EntityList []CorrectedEntity

func (l EntityList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return sonic.Marshal(l)
}

func (l *EntityList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("entities: unsupported type %T", src)
	}
	return sonic.Unmarshal(data, l)
}

// ToDomain converts the row to the form the domain merge consumes.
func (c Correction) ToDomain() domain.Correction {
	out := domain.Correction{Text: c.Text, Language: c.Language, Intent: c.CorrectIntent}
	for _, e := range c.Entities {
		out.Entities = append(out.Entities, domain.CorrectedEntity{Type: e.Type, Value: e.Value, Text: e.Text})
	}
	return out
}

// Repository is the persistence the ingestor and reloader need.
type Repository interface {
	Record(ctx context.Context, c *Correction) error
	List(ctx context.Context) ([]Correction, error)
	Pending(ctx context.Context) ([]Correction, error)
	MarkApplied(ctx context.Context, ids []string) error
}

// Store keeps corrections in Postgres. The utterance embedding goes into a pgvector column.
type Store struct {
	db    *sqlx.DB
	table string
}

func NewStore(db *sqlx.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

// Migrate creates the table when missing. The vector column has no fixed dimension.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			language TEXT NOT NULL,
			predicted_intent TEXT NOT NULL DEFAULT '',
			correct_intent TEXT NOT NULL DEFAULT '',
			entities JSONB NOT NULL DEFAULT '[]',
			embedding vector,
			submitted_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			applied_at TIMESTAMPTZ
		)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewFeedbackStoreFailedError("migrate", err)
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, c *Correction) error {
	var vec interface{}
	if len(c.Embedding) > 0 {
		vec = pgvector.NewVector(c.Embedding)
	}
	query := fmt.Sprintf(`INSERT INTO %s (
			id, session_id, text, language, predicted_intent, correct_intent,
			entities, embedding, submitted_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.SessionID, c.Text, c.Language, c.PredictedIntent, c.CorrectIntent,
		c.Entities, vec, c.SubmittedBy, c.CreatedAt,
	)
	if err != nil {
		return apperrors.NewFeedbackStoreFailedError("record", err)
	}
	return nil
}

const selectColumns = `id, session_id, text, language, predicted_intent, correct_intent,
	entities, submitted_by, created_at, applied_at`

// List returns every correction, oldest first.
func (s *Store) List(ctx context.Context) ([]Correction, error) {
	var out []Correction
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, selectColumns, s.table)
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, apperrors.NewFeedbackStoreFailedError("list", err)
	}
	return out, nil
}

// Pending returns the corrections not yet applied to a reload.
func (s *Store) Pending(ctx context.Context) ([]Correction, error) {
	var out []Correction
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE applied_at IS NULL ORDER BY created_at, id`, selectColumns, s.table)
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, apperrors.NewFeedbackStoreFailedError("pending", err)
	}
	return out, nil
}

func (s *Store) MarkApplied(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET applied_at = NOW() WHERE id = ANY($1) AND applied_at IS NULL`, s.table)
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return apperrors.NewFeedbackStoreFailedError("mark applied", err)
	}
	return nil
}
