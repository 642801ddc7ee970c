// internal/workers/assistant/ingest-feedback/models.go
package ingestfeedback

import "tourism-assistant/internal/feedback"

type Input = feedback.Submission

type Output struct {
	CorrectionID string `json:"correctionId"`
	Recorded     bool   `json:"recorded"`
}
