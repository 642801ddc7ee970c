// internal/workers/assistant/process-utterance/models.go
package processutterance

import "tourism-assistant/internal/models"

type Input struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
}

// Output is merged into the process instance. dialogAction drives the next BPMN gateway.
type Output struct {
	NLUResult    models.NLUResult    `json:"nluResult"`
	DialogAction models.DialogAction `json:"dialogAction"`
	ActionKind   string              `json:"actionKind"`
	Language     string              `json:"language"`
}
