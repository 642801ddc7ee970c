// internal/models/session.go
package models

import "time"

// State is the dialog state of a session.
type State string

const (
	StateGreeting             State = "greeting"
	StateInformationGathering State = "information_gathering"
	StateClarifying           State = "clarifying"
	StateGoalTracking         State = "goal_tracking"
	StateFarewell             State = "farewell"
)

// Turn is one processed utterance kept in the bounded history.
type Turn struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Language   string     `json:"language"`
	Intent     string     `json:"intent"`
	Confidence float64    `json:"confidence"`
	Entities   []Entity   `json:"entities,omitempty"`
	Action     ActionKind `json:"action"`
	At         time.Time  `json:"at"`
}

// RememberedEntity is the latest accepted value for an entity type.
type RememberedEntity struct {
	Value      string       `json:"value"`
	Confidence float64      `json:"confidence"`
	Source     EntitySource `json:"source"`
	TurnID     string       `json:"turnId"`
	// Turn is the memory version that wrote the value.
	Turn      int64     `json:"turn"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Memory is the conversation memory of one session.
type Memory struct {
	SessionID      string                      `json:"sessionId"`
	State          State                       `json:"state"`
	Turns          []Turn                      `json:"turns"`
	Entities       map[string]RememberedEntity `json:"entities"`
	Topics         []string                    `json:"topics"`
	ExpectedIntent string                      `json:"expectedIntent,omitempty"`
	PendingEntity  string                      `json:"pendingEntity,omitempty"`
	CreatedAt      time.Time                   `json:"createdAt"`
	LastAccessed   time.Time                   `json:"lastAccessed"`
	ExpiresAt      time.Time                   `json:"expiresAt"`
	Version        int64                       `json:"version"`
}

// NewMemory returns an empty memory in the greeting state.
func NewMemory(sessionID string, now time.Time, ttl time.Duration) *Memory {
	return &Memory{
		SessionID:    sessionID,
		State:        StateGreeting,
		Entities:     make(map[string]RememberedEntity),
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
	}
}

// IsExpired checks the TTL against the given instant.
func (m *Memory) IsExpired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// ActiveTopic is the top of the topic stack.
func (m *Memory) ActiveTopic() string {
	if m == nil || len(m.Topics) == 0 {
		return ""
	}
	return m.Topics[len(m.Topics)-1]
}

// RecentTurns returns up to n most recent turns, newest first.
func (m *Memory) RecentTurns(n int) []Turn {
	if m == nil || n <= 0 {
		return nil
	}
	out := make([]Turn, 0, n)
	for i := len(m.Turns) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.Turns[i])
	}
	return out
}

// Clone returns a deep copy.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Turns = make([]Turn, len(m.Turns))
	for i, t := range m.Turns {
		t.Entities = append([]Entity(nil), t.Entities...)
		c.Turns[i] = t
	}
	c.Entities = make(map[string]RememberedEntity, len(m.Entities))
	for k, v := range m.Entities {
		c.Entities[k] = v
	}
	c.Topics = append([]string(nil), m.Topics...)
	return &c
}
