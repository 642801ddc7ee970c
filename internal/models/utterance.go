// internal/models/utterance.go
package models

import "time"

// Utterance is one inbound user message. It is never modified after creation.
type Utterance struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	ReceivedAt time.Time `json:"receivedAt"`
}
