package entity

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/embedding"
)

const (
	minFuzzyRunes   = 3
	maxSemanticSpan = 64
)

// patternStrategy applies the regular expressions and exact lexicon matches.
func (e *Extractor) patternStrategy(req Request, toks []token) []models.Entity {
	var out []models.Entity

	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(req.Text, -1) {
			start, end := loc[2*p.group], loc[2*p.group+1]
			if start < 0 {
				continue
			}
			surface := req.Text[start:end]
			value := normalizeValue(p.normalizer, surface, req.Now)
			if value == "" {
				continue
			}
			out = append(out, models.Entity{
				Type:       p.entityType,
				Value:      value,
				Text:       surface,
				Confidence: e.cfg.PatternConfidence,
				Source:     models.SourcePattern,
				Span:       models.Span{Start: start, End: end},
			})
		}
	}

	for _, le := range e.lexicon {
		n := len(le.tokens)
		for i := 0; i+n <= len(toks); i++ {
			if !tokensEqual(toks[i:i+n], le.tokens) {
				continue
			}
			start, end := toks[i].start, toks[i+n-1].end
			out = append(out, models.Entity{
				Type:       le.entityType,
				Value:      le.canonical,
				Text:       req.Text[start:end],
				Confidence: e.cfg.PatternConfidence,
				Source:     models.SourcePattern,
				Span:       models.Span{Start: start, End: end},
			})
		}
	}
	return out
}

// fuzzyStrategy compares token windows with lexicon surfaces by edit distance.
// Each window keeps its best match at or above the similarity floor.
func (e *Extractor) fuzzyStrategy(text string, toks []token) []models.Entity {
	var out []models.Entity
	for n := 1; n <= e.maxLexLen; n++ {
		for i := 0; i+n <= len(toks); i++ {
			window := joinLower(toks[i : i+n])
			if utf8.RuneCountInString(window) < minFuzzyRunes {
				continue
			}

			var best *lexEntry
			bestSim := 0.0
			for k := range e.lexicon {
				le := &e.lexicon[k]
				if !le.fuzzy || len(le.tokens) != n {
					continue
				}
				sim := similarity(window, le.joined)
				if sim < e.cfg.FuzzyFloor {
					continue
				}
				if best == nil || sim > bestSim || (sim == bestSim && le.canonical < best.canonical) {
					best, bestSim = le, sim
				}
			}
			if best == nil {
				continue
			}
			start, end := toks[i].start, toks[i+n-1].end
			out = append(out, models.Entity{
				Type:       best.entityType,
				Value:      best.canonical,
				Text:       text[start:end],
				Confidence: bestSim * e.cfg.FuzzyMaxConfidence,
				Source:     models.SourceFuzzy,
				Span:       models.Span{Start: start, End: end},
			})
		}
	}
	return out
}

// similarity is 1 - distance/longer length, over runes.
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// semanticStrategy embeds n-gram spans and compares them with the exemplars of the expected types.
func (e *Extractor) semanticStrategy(ctx context.Context, req Request, toks []token) ([]models.Entity, error) {
	var types []string
	for _, t := range req.ExpectedTypes {
		if len(e.exemplars[t]) > 0 {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return nil, nil
	}
	sort.Strings(types)

	var out []models.Entity
	spans := 0
	for n := 1; n <= e.cfg.MaxSpanTokens; n++ {
		for i := 0; i+n <= len(toks); i++ {
			if spans >= maxSemanticSpan {
				return out, nil
			}
			if err := ctx.Err(); err != nil {
				return out, err
			}
			start, end := toks[i].start, toks[i+n-1].end
			surface := req.Text[start:end]
			if utf8.RuneCountInString(surface) < minFuzzyRunes {
				continue
			}
			spans++

			vec, err := e.embedder.Embed(ctx, surface, req.Language)
			if err != nil {
				return out, err
			}

			bestType, bestValue, bestSim := "", "", 0.0
			for _, t := range types {
				for _, ex := range e.exemplars[t] {
					sim, err := embedding.Similarity(vec, ex.vector)
					if err != nil {
						return out, err
					}
					if sim > bestSim || (sim == bestSim && bestValue != "" && ex.canonical < bestValue) {
						bestType, bestValue, bestSim = t, ex.canonical, sim
					}
				}
			}
			if bestSim < e.cfg.SemanticFloor {
				continue
			}
			out = append(out, models.Entity{
				Type:       bestType,
				Value:      bestValue,
				Text:       surface,
				Confidence: bestSim * e.cfg.SemanticMaxConfidence,
				Source:     models.SourceSemantic,
				Span:       models.Span{Start: start, End: end},
			})
		}
	}
	return out, nil
}

func tokensEqual(window []token, want []string) bool {
	for i, t := range window {
		if t.lower != want[i] {
			return false
		}
	}
	return true
}

// containsType reports whether list contains t.
func containsType(list []string, t string) bool {
	for _, item := range list {
		if strings.EqualFold(item, t) {
			return true
		}
	}
	return false
}
