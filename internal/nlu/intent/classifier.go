// Package intent classifies an utterance embedding by nearest-neighbour similarity
// against precomputed per-intent example embeddings.
package intent

import (
	"context"
	"fmt"
	"sort"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
)

const maxCandidates = 5

// Example is a canonical phrase bound to an intent, embedded once at load time.
type Example struct {
	Intent   string
	Language string
	Text     string
	Vector   embedding.Vector
}

type Config struct {
	MinConfidence float64
	TieEpsilon    float64
	// ContextBonus multiplies the score of intents on the active topic by (1 + ContextBonus).
	ContextBonus     float64
	FallbackLanguage string
}

// Context carries the conversation hints used for boosting and tie-breaking.
type Context struct {
	ActiveTopic    string
	ExpectedIntent string
}

// Pinner embeds texts and keeps the vectors out of cache eviction while the domain uses them.
type Pinner interface {
	Pin(ctx context.Context, texts []string, languageHint string) (map[string]embedding.Vector, error)
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	cfg    Config
	model  string
	dim    int
	byLang map[string][]Example
	counts map[string]map[string]int
	topics map[string]string
}

// New indexes examples by language. All vectors must share one model and dimension.
func New(cfg Config, examples []Example, topics map[string]string) (*Classifier, error) {
	c := &Classifier{
		cfg:    cfg,
		byLang: make(map[string][]Example),
		counts: make(map[string]map[string]int),
		topics: topics,
	}
	for i, ex := range examples {
		if i == 0 {
			c.model, c.dim = ex.Vector.Model, ex.Vector.Dimension()
		} else if ex.Vector.Model != c.model || ex.Vector.Dimension() != c.dim {
			return nil, apperrors.NewModelMismatchError(
				fmt.Sprintf("%s/%d", c.model, c.dim),
				fmt.Sprintf("%s/%d", ex.Vector.Model, ex.Vector.Dimension()),
			)
		}
		c.byLang[ex.Language] = append(c.byLang[ex.Language], ex)
		if c.counts[ex.Language] == nil {
			c.counts[ex.Language] = make(map[string]int)
		}
		c.counts[ex.Language][ex.Intent]++
	}
	return c, nil
}

// Build embeds every example of the domain through the pinner and returns a classifier.
func Build(ctx context.Context, d *domain.Domain, pinner Pinner, cfg Config) (*Classifier, error) {
	var examples []Example
	topics := make(map[string]string, len(d.Intents))
	for _, in := range d.Intents {
		topics[in.Name] = in.TopicName()
		langs := make([]string, 0, len(in.Examples))
		for lang := range in.Examples {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			texts := in.Examples[lang]
			vectors, err := pinner.Pin(ctx, texts, lang)
			if err != nil {
				return nil, fmt.Errorf("embed examples for intent %s/%s: %w", in.Name, lang, err)
			}
			for _, text := range texts {
				v, ok := vectors[text]
				if !ok {
					continue
				}
				examples = append(examples, Example{Intent: in.Name, Language: lang, Text: text, Vector: v})
			}
		}
	}
	return New(cfg, examples, topics)
}

// Model is the embedding model the examples were computed with.
func (c *Classifier) Model() string { return c.model }

// ExampleCount returns the number of examples indexed for a language.
func (c *Classifier) ExampleCount(language string) int { return len(c.byLang[language]) }

// Classify ranks intents by their best example similarity. The result is deterministic
// for a fixed vector and hint.
func (c *Classifier) Classify(vec embedding.Vector, language string, hint Context) (models.ClassificationResult, error) {
	if c.model != "" && (vec.Model != c.model || vec.Dimension() != c.dim) {
		return models.ClassificationResult{Label: models.FallbackIntent}, apperrors.NewModelMismatchError(
			fmt.Sprintf("%s/%d", c.model, c.dim),
			fmt.Sprintf("%s/%d", vec.Model, vec.Dimension()),
		)
	}

	lang := language
	examples := c.byLang[lang]
	if len(examples) == 0 {
		lang = c.cfg.FallbackLanguage
		examples = c.byLang[lang]
	}
	if len(examples) == 0 {
		return models.ClassificationResult{Label: models.FallbackIntent}, nil
	}

	best := make(map[string]float64)
	for _, ex := range examples {
		s := clamp(embedding.Cosine(vec.Values, ex.Vector.Values))
		if cur, ok := best[ex.Intent]; !ok || s > cur {
			best[ex.Intent] = s
		}
	}

	ranked := make([]models.Candidate, 0, len(best))
	for label, score := range best {
		if hint.ActiveTopic != "" && c.topics[label] == hint.ActiveTopic {
			score = clamp(score * (1 + c.cfg.ContextBonus))
		}
		ranked = append(ranked, models.Candidate{Label: label, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Label < ranked[j].Label
	})

	winner := c.breakTie(ranked, lang, hint.ExpectedIntent)
	if winner > 0 {
		w := ranked[winner]
		copy(ranked[1:winner+1], ranked[:winner])
		ranked[0] = w
	}
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}

	top := ranked[0]
	if top.Score < c.cfg.MinConfidence {
		return models.ClassificationResult{
			Label:      models.FallbackIntent,
			Confidence: top.Score,
			Candidates: ranked,
		}, nil
	}
	return models.ClassificationResult{
		Label:      top.Label,
		Confidence: top.Score,
		Candidates: ranked,
	}, nil
}

// breakTie returns the index of the winner among labels within TieEpsilon of the top score:
// the expected intent, then the label with more examples, then the lexicographically first.
// When the top score clears MinConfidence, labels below it never join the tie.
func (c *Classifier) breakTie(ranked []models.Candidate, lang, expected string) int {
	topScore := ranked[0].Score
	floor := 0.0
	if topScore >= c.cfg.MinConfidence {
		floor = c.cfg.MinConfidence
	}
	end := 1
	for end < len(ranked) && topScore-ranked[end].Score <= c.cfg.TieEpsilon && ranked[end].Score >= floor {
		end++
	}
	if end == 1 {
		return 0
	}

	if expected != "" {
		for i := 0; i < end; i++ {
			if ranked[i].Label == expected {
				return i
			}
		}
	}

	winner := 0
	for i := 1; i < end; i++ {
		ci, cw := c.counts[lang][ranked[i].Label], c.counts[lang][ranked[winner].Label]
		if ci > cw || (ci == cw && ranked[i].Label < ranked[winner].Label) {
			winner = i
		}
	}
	return winner
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
