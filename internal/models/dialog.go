// internal/models/dialog.go
package models

// ActionKind is what the assistant does next.
type ActionKind string

const (
	ActionRespond        ActionKind = "respond"
	ActionQueryKnowledge ActionKind = "query_knowledge"
	ActionClarify        ActionKind = "clarify"
	ActionEnd            ActionKind = "end"
)

// DialogAction is handed to the response-rendering collaborator.
type DialogAction struct {
	Kind            ActionKind        `json:"kind"`
	ContentKey      string            `json:"contentKey,omitempty"`
	Intent          string            `json:"intent"`
	Domain          string            `json:"domain,omitempty"`
	Filters         map[string]string `json:"filters,omitempty"`
	MissingEntities []string          `json:"missingEntities,omitempty"`
	Language        string            `json:"language"`
	TargetState     State             `json:"targetState"`
	// SuggestedNext is the intent the assistant expects on the next turn.
	SuggestedNext string `json:"suggestedNext,omitempty"`
	// Reason is a small error code for the response layer, never an internal message.
	Reason string `json:"reason,omitempty"`
}

// MissingEntity returns the first missing entity type of a clarify action.
func (a DialogAction) MissingEntity() string {
	if len(a.MissingEntities) == 0 {
		return ""
	}
	return a.MissingEntities[0]
}

// TurnOutcome is the result of processUtterance.
type TurnOutcome struct {
	Result NLUResult    `json:"nluResult"`
	Action DialogAction `json:"dialogAction"`
}
