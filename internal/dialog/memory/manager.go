// Package memory owns per-session conversation memory: the dialog state machine, bounded
// turn and topic history, the entity merge rule and time-based expiry.
package memory

import (
	"context"
	"time"

	"tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/models"
)

type Config struct {
	TTL                time.Duration
	MaxTurns           int
	MaxTopics          int
	MinMergeConfidence float64
	// EntityMaxTurns forgets a remembered entity once that many turns pass without a
	// mention. Zero uses MaxTurns, negative disables turn-based decay.
	EntityMaxTurns int
	// EntityMaxAge forgets a remembered entity older than this. Zero disables.
	EntityMaxAge time.Duration
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Update is what one processed turn contributes to memory.
type Update struct {
	Result models.NLUResult
	Action models.DialogAction
	// Topic is the topic of the classified intent; empty leaves the topic stack unchanged.
	Topic string
}

// Manager is the only writer of session memory. It does not serialize turns of the same
// session; callers hold a per-session lock around Read and Merge.
type Manager struct {
	store  Store
	cfg    Config
	logger Logger
	now    func() time.Time
}

func NewManager(store Store, cfg Config, log Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = 5
	}
	if cfg.EntityMaxTurns == 0 {
		cfg.EntityMaxTurns = cfg.MaxTurns
	}
	return &Manager{store: store, cfg: cfg, logger: log, now: time.Now}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// Read returns a snapshot of the session memory, nil for an unknown session, or a
// SESSION_EXPIRED error after deleting a session past its TTL.
func (m *Manager) Read(ctx context.Context, sessionID string) (*models.Memory, error) {
	if sessionID == "" {
		return nil, errors.NewInvalidInputError("sessionId is required")
	}
	mem, err := m.store.Load(ctx, sessionID)
	if err != nil {
		metrics.SessionStoreErrors.WithLabelValues("load").Inc()
		return nil, errors.NewSessionStoreFailedError("load", err)
	}
	if mem == nil {
		return nil, nil
	}
	if mem.IsExpired(m.now()) {
		m.expire(ctx, sessionID)
		return nil, errors.NewSessionExpiredError(sessionID)
	}
	m.decay(mem, m.now())
	return mem, nil
}

// Merge applies one turn to the session memory and returns the updated snapshot. A missing
// or expired session starts over from a fresh memory in the greeting state. When ctx is
// done before the write, memory is left untouched and TURN_ABANDONED is returned.
func (m *Manager) Merge(ctx context.Context, sessionID string, upd Update) (*models.Memory, error) {
	if sessionID == "" {
		return nil, errors.NewInvalidInputError("sessionId is required")
	}
	now := m.now()

	mem, err := m.store.Load(ctx, sessionID)
	if err != nil {
		metrics.SessionStoreErrors.WithLabelValues("load").Inc()
		return nil, errors.NewSessionStoreFailedError("load", err)
	}
	if mem != nil && mem.IsExpired(now) {
		m.expire(ctx, sessionID)
		mem = nil
	}
	if mem == nil {
		mem = models.NewMemory(sessionID, now, m.cfg.TTL)
	}

	m.decay(mem, now)
	m.apply(mem, upd, now)

	if err := ctx.Err(); err != nil {
		return nil, errors.NewTurnAbandonedError(sessionID, err)
	}
	if err := m.store.Save(ctx, mem, m.cfg.TTL); err != nil {
		metrics.SessionStoreErrors.WithLabelValues("save").Inc()
		return mem, errors.NewSessionStoreFailedError("save", err)
	}

	m.logger.Debug("Session memory merged", map[string]interface{}{
		"sessionId": sessionID,
		"state":     string(mem.State),
		"turns":     len(mem.Turns),
		"version":   mem.Version,
	})
	return mem.Clone(), nil
}

// Expire deletes the session memory.
func (m *Manager) Expire(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		metrics.SessionStoreErrors.WithLabelValues("delete").Inc()
		return errors.NewSessionStoreFailedError("delete", err)
	}
	return nil
}

func (m *Manager) expire(ctx context.Context, sessionID string) {
	metrics.SessionsExpired.Inc()
	if err := m.Expire(ctx, sessionID); err != nil {
		m.logger.Warn("Failed to delete expired session", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

func (m *Manager) apply(mem *models.Memory, upd Update, now time.Time) {
	res := upd.Result
	turn := models.Turn{
		ID:         res.Utterance.ID,
		Text:       res.Utterance.Text,
		Language:   res.Language,
		Intent:     res.Classification.Label,
		Confidence: res.Classification.Confidence,
		Action:     upd.Action.Kind,
		At:         now,
	}

	for _, ent := range res.Entities {
		if ent.Confidence < m.cfg.MinMergeConfidence {
			continue
		}
		turn.Entities = append(turn.Entities, ent)
		mem.Entities[ent.Type] = models.RememberedEntity{
			Value:      ent.Value,
			Confidence: ent.Confidence,
			Source:     ent.Source,
			TurnID:     turn.ID,
			Turn:       mem.Version + 1,
			UpdatedAt:  now,
		}
	}

	mem.Turns = append(mem.Turns, turn)
	if over := len(mem.Turns) - m.cfg.MaxTurns; over > 0 {
		mem.Turns = append([]models.Turn(nil), mem.Turns[over:]...)
	}

	if upd.Topic != "" {
		mem.Topics = pushTopic(mem.Topics, upd.Topic, m.cfg.MaxTopics)
	}

	if upd.Action.TargetState != "" {
		mem.State = upd.Action.TargetState
	} else {
		mem.State = NextState(mem.State, EventFor(upd.Action))
	}
	mem.ExpectedIntent = upd.Action.SuggestedNext
	mem.PendingEntity = ""
	if upd.Action.Kind == models.ActionClarify {
		mem.PendingEntity = upd.Action.MissingEntity()
	}

	mem.LastAccessed = now
	mem.ExpiresAt = now.Add(m.cfg.TTL)
	mem.Version++
}

// decay drops remembered entities that went unmentioned for EntityMaxTurns turns or
// are older than EntityMaxAge. Version counts merged turns.
func (m *Manager) decay(mem *models.Memory, now time.Time) {
	for typ, e := range mem.Entities {
		stale := m.cfg.EntityMaxTurns > 0 && mem.Version-e.Turn >= int64(m.cfg.EntityMaxTurns)
		if m.cfg.EntityMaxAge > 0 && now.Sub(e.UpdatedAt) > m.cfg.EntityMaxAge {
			stale = true
		}
		if stale {
			delete(mem.Entities, typ)
			m.logger.Debug("Remembered entity decayed", map[string]interface{}{
				"sessionId": mem.SessionID,
				"type":      typ,
				"turnId":    e.TurnID,
			})
		}
	}
}

// pushTopic moves topic to the top of the stack and drops the oldest beyond max.
func pushTopic(stack []string, topic string, max int) []string {
	out := make([]string, 0, len(stack)+1)
	for _, t := range stack {
		if t != topic {
			out = append(out, t)
		}
	}
	out = append(out, topic)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
