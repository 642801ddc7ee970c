// Package orchestrator decides the next dialog action for a classified turn.
package orchestrator

import (
	"tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/dialog/memory"
	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/domain"
)

type Config struct {
	GreetingThreshold  float64
	FarewellThreshold  float64
	FallbackContentKey string
}

// Orchestrator is immutable and safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	intents map[string]domain.Intent
}

func New(cfg Config, d *domain.Domain) *Orchestrator {
	if cfg.FallbackContentKey == "" {
		cfg.FallbackContentKey = "fallback.generic"
	}
	intents := make(map[string]domain.Intent, len(d.Intents))
	for _, in := range d.Intents {
		intents[in.Name] = in
	}
	return &Orchestrator{cfg: cfg, intents: intents}
}

// Decide returns the action for the turn. mem may be nil for a new session; it is only read.
func (o *Orchestrator) Decide(res models.NLUResult, mem *models.Memory) models.DialogAction {
	label := res.Classification.Label
	conf := res.Classification.Confidence

	var action models.DialogAction
	switch {
	case res.Classification.IsFallback():
		action = o.fallback(res, mem)
	case label == models.IntentGreeting:
		if conf < o.cfg.GreetingThreshold {
			action = o.fallback(res, mem)
			break
		}
		action = models.DialogAction{Kind: models.ActionRespond, ContentKey: models.IntentGreeting, Intent: label}
	case label == models.IntentFarewell:
		if conf < o.cfg.FarewellThreshold {
			action = o.fallback(res, mem)
			break
		}
		action = models.DialogAction{Kind: models.ActionEnd, ContentKey: models.IntentFarewell, Intent: label}
	default:
		action = o.decideIntent(res, mem)
	}

	action.Language = res.Language
	action.TargetState = memory.NextState(currentState(mem), memory.EventFor(action))
	return action
}

func (o *Orchestrator) fallback(res models.NLUResult, mem *models.Memory) models.DialogAction {
	action := models.DialogAction{
		Kind:       models.ActionRespond,
		ContentKey: o.cfg.FallbackContentKey,
		Intent:     models.FallbackIntent,
		Reason:     res.Degraded,
	}
	if mem != nil {
		action.SuggestedNext = mem.ExpectedIntent
	}
	return action
}

func (o *Orchestrator) decideIntent(res models.NLUResult, mem *models.Memory) models.DialogAction {
	in, ok := o.intents[res.Classification.Label]
	if !ok || in.KnowledgeDomain == "" {
		return models.DialogAction{Kind: models.ActionRespond, ContentKey: res.Classification.Label, Intent: res.Classification.Label}
	}

	var missing []string
	for _, t := range in.RequiredEntities {
		if _, found := res.EntityOf(t); found {
			continue
		}
		if mem != nil {
			if _, found := mem.Entities[t]; found {
				continue
			}
		}
		missing = append(missing, t)
	}
	if len(missing) > 0 {
		return models.DialogAction{
			Kind:            models.ActionClarify,
			ContentKey:      "clarify." + missing[0],
			Intent:          in.Name,
			Domain:          in.KnowledgeDomain,
			MissingEntities: missing,
			SuggestedNext:   in.Name,
			Reason:          string(errors.ErrCodeMissingRequiredEntity),
		}
	}

	return models.DialogAction{
		Kind:          models.ActionQueryKnowledge,
		ContentKey:    in.Name,
		Intent:        in.Name,
		Domain:        in.KnowledgeDomain,
		Filters:       resolveFilters(in.Expected(), res, mem),
		SuggestedNext: in.Name,
	}
}

// resolveFilters overlays the turn's entities on remembered ones, restricted to the types the intent uses.
func resolveFilters(types []string, res models.NLUResult, mem *models.Memory) map[string]string {
	filters := make(map[string]string, len(types))
	for _, t := range types {
		if mem != nil {
			if rem, ok := mem.Entities[t]; ok {
				filters[t] = rem.Value
			}
		}
		if ent, ok := res.EntityOf(t); ok {
			filters[t] = ent.Value
		}
	}
	return filters
}

func currentState(mem *models.Memory) models.State {
	if mem == nil || mem.State == "" {
		return models.StateGreeting
	}
	return mem.State
}
