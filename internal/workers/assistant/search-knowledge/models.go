// internal/workers/assistant/search-knowledge/models.go
package searchknowledge

import (
	"tourism-assistant/internal/knowledge"
	"tourism-assistant/internal/models"
)

// Input is the dialogAction produced by process-utterance plus an optional result limit.
type Input struct {
	DialogAction models.DialogAction `json:"dialogAction"`
	Limit        int                 `json:"limit,omitempty"`
}

type Output struct {
	KnowledgeResults []knowledge.Result `json:"knowledgeResults"`
	ResultCount      int                `json:"resultCount"`
	ContentKey       string             `json:"contentKey"`
}
