// Package entity extracts typed entities from an utterance with pattern, fuzzy and
// semantic strategies, reconciles overlapping candidates and resolves references
// against recent turns.
package entity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
)

type Config struct {
	PatternConfidence     float64
	FuzzyFloor            float64
	FuzzyMaxConfidence    float64
	SemanticFloor         float64
	SemanticMaxConfidence float64
	MaxSpanTokens         int
	CorefLookback         int
}

// Embedder is what the semantic strategy needs: span embeddings and pinned exemplars.
type Embedder interface {
	Embed(ctx context.Context, text, languageHint string) (embedding.Vector, error)
	Pin(ctx context.Context, texts []string, languageHint string) (map[string]embedding.Vector, error)
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Request describes one extraction.
type Request struct {
	Text     string
	Language string
	Intent   string
	// ExpectedTypes narrows the semantic strategy and coreference to these types.
	ExpectedTypes []string
	// History holds recent turns, newest first.
	History      []models.Turn
	SkipFuzzy    bool
	SkipSemantic bool
	Now          time.Time
}

type compiledPattern struct {
	entityType string
	re         *regexp.Regexp
	normalizer string
	group      int
}

type lexEntry struct {
	entityType string
	canonical  string
	surface    string
	tokens     []string
	joined     string
	fuzzy      bool
}

type exemplar struct {
	canonical string
	vector    embedding.Vector
}

type corefRule struct {
	tokens []string
	types  []string
}

// Extractor is immutable after Build and safe for concurrent use.
type Extractor struct {
	cfg       Config
	patterns  []compiledPattern
	lexicon   []lexEntry
	maxLexLen int
	exemplars map[string][]exemplar
	coref     []corefRule
	embedder  Embedder
	logger    Logger
}

// Build compiles the domain's entity definitions. When embedder is non-nil, every lexicon
// surface form is pinned as a semantic exemplar.
func Build(ctx context.Context, cfg Config, d *domain.Domain, embedder Embedder, log Logger) (*Extractor, error) {
	if cfg.MaxSpanTokens <= 0 {
		cfg.MaxSpanTokens = 3
	}
	e := &Extractor{
		cfg:       cfg,
		exemplars: make(map[string][]exemplar),
		embedder:  embedder,
		logger:    log,
	}

	for _, et := range d.Entities {
		for _, p := range et.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("entity %s: compile %q: %w", et.Type, p.Regex, err)
			}
			e.patterns = append(e.patterns, compiledPattern{
				entityType: et.Type,
				re:         re,
				normalizer: p.Normalizer,
				group:      p.Group,
			})
		}

		var surfaces []string
		for _, v := range et.Values {
			for _, s := range v.Surfaces() {
				toks := lowerTokens(s)
				if len(toks) == 0 {
					continue
				}
				e.lexicon = append(e.lexicon, lexEntry{
					entityType: et.Type,
					canonical:  v.Canonical,
					surface:    s,
					tokens:     toks,
					joined:     strings.Join(toks, " "),
					fuzzy:      et.FuzzyEnabled(),
				})
				if len(toks) > e.maxLexLen {
					e.maxLexLen = len(toks)
				}
				surfaces = append(surfaces, s)
			}
		}

		if embedder != nil && len(surfaces) > 0 {
			vectors, err := embedder.Pin(ctx, surfaces, "")
			if err != nil {
				return nil, fmt.Errorf("embed exemplars for %s: %w", et.Type, err)
			}
			for _, v := range et.Values {
				for _, s := range v.Surfaces() {
					if vec, ok := vectors[s]; ok {
						e.exemplars[et.Type] = append(e.exemplars[et.Type], exemplar{canonical: v.Canonical, vector: vec})
					}
				}
			}
		}
	}

	for _, rule := range d.Coreference {
		toks := lowerTokens(rule.Phrase)
		if len(toks) == 0 {
			continue
		}
		e.coref = append(e.coref, corefRule{tokens: toks, types: rule.Types})
	}
	// Longest phrase first.
	sort.SliceStable(e.coref, func(i, j int) bool { return len(e.coref[i].tokens) > len(e.coref[j].tokens) })
	return e, nil
}

// Extract runs the strategies concurrently, reconciles their output and resolves references.
// It never fails: a failing strategy contributes no entities.
func (e *Extractor) Extract(ctx context.Context, req Request) []models.Entity {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	toks := tokenize(req.Text)

	var pattern, fuzzy, semantic []models.Entity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pattern = e.patternStrategy(req, toks)
		return nil
	})
	if !req.SkipFuzzy {
		g.Go(func() error {
			fuzzy = e.fuzzyStrategy(req.Text, toks)
			return nil
		})
	}
	if !req.SkipSemantic && e.embedder != nil && len(req.ExpectedTypes) > 0 {
		g.Go(func() error {
			found, err := e.semanticStrategy(gctx, req, toks)
			if err != nil {
				e.logger.Warn("Semantic entity strategy failed", map[string]interface{}{
					"intent": req.Intent,
					"error":  err.Error(),
				})
				return nil
			}
			semantic = found
			return nil
		})
	}
	_ = g.Wait()

	all := make([]models.Entity, 0, len(pattern)+len(fuzzy)+len(semantic))
	all = append(all, pattern...)
	all = append(all, fuzzy...)
	all = append(all, semantic...)

	entities := Reconcile(all)
	entities = e.resolveReferences(req, toks, entities)

	e.logger.Debug("Entities extracted", map[string]interface{}{
		"pattern":  len(pattern),
		"fuzzy":    len(fuzzy),
		"semantic": len(semantic),
		"kept":     len(entities),
	})
	return entities
}
