package entity

import (
	"sort"

	"tourism-assistant/internal/models"
)

// Reconcile resolves overlapping candidates. Among overlapping spans the highest confidence
// wins; exact ties prefer pattern, then fuzzy, then semantic; remaining ties prefer the
// earlier, then the longer span. The result is ordered by span start.
func Reconcile(candidates []models.Entity) []models.Entity {
	if len(candidates) == 0 {
		return nil
	}
	ordered := append([]models.Entity(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if pa, pb := a.Source.Precedence(), b.Source.Precedence(); pa != pb {
			return pa < pb
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.Len() != b.Span.Len() {
			return a.Span.Len() > b.Span.Len()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Value < b.Value
	})

	var kept []models.Entity
	for _, cand := range ordered {
		overlaps := false
		for _, k := range kept {
			if cand.Span.Overlaps(k.Span) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Span.Start < kept[j].Span.Start
	})
	return kept
}

// resolveReferences appends entities for reference phrases whose antecedent is found in
// the recent history. Unresolvable references are dropped.
func (e *Extractor) resolveReferences(req Request, toks []token, entities []models.Entity) []models.Entity {
	if len(e.coref) == 0 || len(req.History) == 0 || e.cfg.CorefLookback <= 0 {
		return entities
	}

	present := make(map[string]bool, len(entities))
	for _, ent := range entities {
		present[ent.Type] = true
	}
	occupied := make([]models.Span, 0, len(entities))
	for _, ent := range entities {
		occupied = append(occupied, ent.Span)
	}

	history := req.History
	if len(history) > e.cfg.CorefLookback {
		history = history[:e.cfg.CorefLookback]
	}

	var resolved []models.Entity
	for _, rule := range e.coref {
		allowed := e.allowedTypes(req, rule.types)
		if len(allowed) == 0 {
			continue
		}
		n := len(rule.tokens)
		for i := 0; i+n <= len(toks); i++ {
			if !tokensEqual(toks[i:i+n], rule.tokens) {
				continue
			}
			span := models.Span{Start: toks[i].start, End: toks[i+n-1].end}
			if overlapsAny(span, occupied) {
				continue
			}

			var open []string
			for _, t := range allowed {
				if !present[t] {
					open = append(open, t)
				}
			}
			ante, turnID, ok := findAntecedent(history, open)
			if !ok {
				continue
			}
			resolved = append(resolved, models.Entity{
				Type:         ante.Type,
				Value:        ante.Value,
				Text:         req.Text[span.Start:span.End],
				Confidence:   ante.Confidence,
				Source:       models.SourceCoreference,
				Span:         span,
				ResolvedFrom: turnID,
			})
			present[ante.Type] = true
			occupied = append(occupied, span)
		}
	}
	if len(resolved) == 0 {
		return entities
	}

	out := append(append([]models.Entity(nil), entities...), resolved...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

// allowedTypes intersects a rule's types with what the intent expects. For the fallback
// intent the rule's own types apply; intents expecting nothing resolve nothing.
func (e *Extractor) allowedTypes(req Request, ruleTypes []string) []string {
	if req.Intent == models.FallbackIntent {
		return ruleTypes
	}
	var out []string
	for _, t := range ruleTypes {
		if containsType(req.ExpectedTypes, t) {
			out = append(out, t)
		}
	}
	return out
}

// findAntecedent returns the most recent entity of one of the types, scanning turns newest
// first and, within a turn, the last mention first.
func findAntecedent(history []models.Turn, types []string) (models.Entity, string, bool) {
	if len(types) == 0 {
		return models.Entity{}, "", false
	}
	for _, turn := range history {
		for i := len(turn.Entities) - 1; i >= 0; i-- {
			ent := turn.Entities[i]
			if containsType(types, ent.Type) {
				return ent, turn.ID, true
			}
		}
	}
	return models.Entity{}, "", false
}

func overlapsAny(span models.Span, spans []models.Span) bool {
	for _, s := range spans {
		if span.Overlaps(s) {
			return true
		}
	}
	return false
}
