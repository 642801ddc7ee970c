package feedback

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/common/validation"
	"tourism-assistant/internal/nlu/embedding"
)

// Submission is a correction as it arrives from a reviewer.
type Submission struct {
	SessionID       string            `json:"sessionId,omitempty"`
	Text            string            `json:"text"`
	Language        string            `json:"language"`
	PredictedIntent string            `json:"predictedIntent,omitempty"`
	CorrectIntent   string            `json:"correctIntent,omitempty"`
	Entities        []CorrectedEntity `json:"entities,omitempty"`
	SubmittedBy     string            `json:"submittedBy,omitempty"`
}

// Embedder is optional; without it corrections are stored without a vector.
type Embedder interface {
	Embed(ctx context.Context, text, languageHint string) (embedding.Vector, error)
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Ingestor validates and records corrections. It never touches the live classifier;
// recorded corrections take effect at the next reload.
type Ingestor struct {
	repo     Repository
	embedder Embedder
	logger   Logger
	now      func() time.Time
}

func NewIngestor(repo Repository, embedder Embedder, log Logger) *Ingestor {
	return &Ingestor{repo: repo, embedder: embedder, logger: log, now: time.Now}
}

func (i *Ingestor) Submit(ctx context.Context, sub Submission) (*Correction, error) {
	sub.Text = strings.TrimSpace(sub.Text)
	result, err := validation.Validate(validation.SchemaIngestFeedback, sub)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperrors.NewInvalidInputError(result.Summary())
	}

	c := &Correction{
		ID:              uuid.NewString(),
		SessionID:       sub.SessionID,
		Text:            sub.Text,
		Language:        sub.Language,
		PredictedIntent: sub.PredictedIntent,
		CorrectIntent:   sub.CorrectIntent,
		Entities:        EntityList(sub.Entities),
		SubmittedBy:     sub.SubmittedBy,
		CreatedAt:       i.now().UTC(),
	}
	if i.embedder != nil {
		vec, err := i.embedder.Embed(ctx, sub.Text, sub.Language)
		if err != nil {
			i.logger.Warn("Storing correction without embedding", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			c.Embedding = vec.Values
		}
	}

	if err := i.repo.Record(ctx, c); err != nil {
		return nil, err
	}
	metrics.FeedbackCorrections.WithLabelValues("recorded").Inc()
	i.logger.Info("Correction recorded", map[string]interface{}{
		"id":            c.ID,
		"correctIntent": c.CorrectIntent,
		"entities":      len(c.Entities),
	})
	return c, nil
}
