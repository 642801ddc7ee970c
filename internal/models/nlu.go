// internal/models/nlu.go
package models

// FallbackIntent is assigned when no intent reaches the minimum confidence.
const FallbackIntent = "fallback"

// Well-known intents with dedicated dialog handling.
const (
	IntentGreeting = "greeting"
	IntentFarewell = "farewell"
)

// Candidate is one ranked intent label.
type Candidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ClassificationResult is the outcome of intent classification for one utterance.
type ClassificationResult struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// IsFallback reports whether the classifier gave up on the utterance.
func (c ClassificationResult) IsFallback() bool {
	return c.Label == FallbackIntent
}

// NLUResult is everything understood from one turn.
type NLUResult struct {
	Utterance      Utterance            `json:"utterance"`
	Language       string               `json:"language"`
	Classification ClassificationResult `json:"classification"`
	Entities       []Entity             `json:"entities"`
	// Degraded carries the error code that forced a fallback path, if any.
	Degraded string `json:"degraded,omitempty"`
}

// EntityOf returns the first entity of the given type.
func (r NLUResult) EntityOf(entityType string) (Entity, bool) {
	for _, e := range r.Entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return Entity{}, false
}
