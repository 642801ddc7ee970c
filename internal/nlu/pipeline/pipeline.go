// Package pipeline composes language detection, embedding, intent classification, entity
// extraction, dialog decision and conversation memory into one turn.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/dialog/memory"
	"tourism-assistant/internal/dialog/orchestrator"
	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
	"tourism-assistant/internal/nlu/entity"
	"tourism-assistant/internal/nlu/intent"
	"tourism-assistant/internal/nlu/language"
)

type Config struct {
	EmbedTimeout time.Duration
	LockTimeout  time.Duration
	Intent       intent.Config
	Entity       entity.Config
	Dialog       orchestrator.Config
}

// Embedder is the cached embedding capability the pipeline runs on.
type Embedder interface {
	Embed(ctx context.Context, text, languageHint string) (embedding.Vector, error)
	Pin(ctx context.Context, texts []string, languageHint string) (map[string]embedding.Vector, error)
	Model() string
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// pinReleaser is implemented by embedders whose pinned set can shrink to what the
// current domain uses.
type pinReleaser interface {
	RetainPinned(texts []string) int
}

// pinRecorder remembers every text pinned while a snapshot is built.
type pinRecorder struct {
	Embedder
	mu    sync.Mutex
	texts []string
}

func (r *pinRecorder) Pin(ctx context.Context, texts []string, languageHint string) (map[string]embedding.Vector, error) {
	r.mu.Lock()
	r.texts = append(r.texts, texts...)
	r.mu.Unlock()
	return r.Embedder.Pin(ctx, texts, languageHint)
}

func (r *pinRecorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := r.texts
	r.texts = nil
	return texts
}

// TurnRecorder receives one call per completed turn.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, action string, duration time.Duration)
}

type Option func(*Pipeline)

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithRecorder(r TurnRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// snapshot is the domain-dependent part of the pipeline, swapped as a whole on reload.
type snapshot struct {
	domain       *domain.Domain
	classifier   *intent.Classifier
	extractor    *entity.Extractor
	orchestrator *orchestrator.Orchestrator
}

type Pipeline struct {
	cfg      Config
	detector *language.Detector
	embedder Embedder
	memory   *memory.Manager
	logger   Logger
	tracer   trace.Tracer
	recorder TurnRecorder
	now      func() time.Time

	locks    *keyedLock
	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// New builds the pipeline for a domain, embedding and pinning every example and exemplar.
func New(ctx context.Context, cfg Config, d *domain.Domain, detector *language.Detector,
	embedder Embedder, mem *memory.Manager, log Logger, opts ...Option) (*Pipeline, error) {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 2 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	p := &Pipeline{
		cfg:      cfg,
		detector: detector,
		embedder: embedder,
		memory:   mem,
		logger:   log,
		tracer:   otel.Tracer("tourism-assistant/pipeline"),
		now:      time.Now,
		locks:    newKeyedLock(),
	}
	for _, opt := range opts {
		opt(p)
	}

	snap, _, err := p.build(ctx, d)
	if err != nil {
		return nil, err
	}
	p.current.Store(snap)
	return p, nil
}

// build returns the snapshot for d and the texts it pinned.
func (p *Pipeline) build(ctx context.Context, d *domain.Domain) (*snapshot, []string, error) {
	rec := &pinRecorder{Embedder: p.embedder}
	classifier, err := intent.Build(ctx, d, rec, p.cfg.Intent)
	if err != nil {
		return nil, nil, fmt.Errorf("build intent classifier: %w", err)
	}
	extractor, err := entity.Build(ctx, p.cfg.Entity, d, rec, p.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build entity extractor: %w", err)
	}
	return &snapshot{
		domain:       d,
		classifier:   classifier,
		extractor:    extractor,
		orchestrator: orchestrator.New(p.cfg.Dialog, d),
	}, rec.take(), nil
}

// Reload rebuilds the domain-dependent components and swaps them in atomically. Turns in
// flight finish on the snapshot they started with.
// Pinned embeddings the new domain no longer uses are released back to the cache LRU.
func (p *Pipeline) Reload(ctx context.Context, d *domain.Domain) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	snap, pinned, err := p.build(ctx, d)
	if err != nil {
		metrics.DomainReloads.WithLabelValues("error").Inc()
		return err
	}
	p.current.Store(snap)
	released := 0
	if r, ok := p.embedder.(pinReleaser); ok {
		released = r.RetainPinned(pinned)
	}
	metrics.DomainReloads.WithLabelValues("ok").Inc()
	p.logger.Info("Domain model reloaded", map[string]interface{}{
		"version":        d.Version,
		"intents":        len(d.Intents),
		"releasedPinned": released,
	})
	return nil
}

// Domain returns the domain model currently in use. Callers must not modify it.
func (p *Pipeline) Domain() *domain.Domain {
	return p.current.Load().domain
}

// ProcessUtterance runs one turn for a session. Turns of the same session are serialized;
// different sessions run in parallel. Embedding failures degrade to the fallback intent
// instead of failing; the only errors are invalid input and an abandoned turn.
func (p *Pipeline) ProcessUtterance(ctx context.Context, text, sessionID, languageHint string) (*models.TurnOutcome, error) {
	start := p.now()
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.NewInvalidInputError("sessionId is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidInputError("text is required")
	}

	ctx, span := p.tracer.Start(ctx, "ProcessUtterance", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	unlock, err := p.lock(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer unlock()

	snap := p.current.Load()
	mem := p.readMemory(ctx, sessionID)

	lang := p.detector.Resolve(languageHint, text)
	utt := models.Utterance{ID: uuid.NewString(), Text: text, Language: lang, ReceivedAt: start}

	res := models.NLUResult{Utterance: utt, Language: lang}
	req := entity.Request{Text: text, Language: lang, Now: start}

	vec, err := p.embed(ctx, text, lang)
	switch {
	case err == nil:
		res.Classification, err = snap.classifier.Classify(vec, lang, intent.Context{
			ActiveTopic:    mem.ActiveTopic(),
			ExpectedIntent: expectedIntent(mem),
		})
		if err != nil {
			p.logger.Error("Intent classification failed", map[string]interface{}{
				"sessionId": sessionID,
				"error":     err.Error(),
			})
			res.Classification = models.ClassificationResult{Label: models.FallbackIntent}
			res.Degraded = string(apperrors.CodeOf(err))
			req.SkipSemantic = true
		}
	case apperrors.HasCode(err, apperrors.ErrCodeEncodingError):
		res.Classification = models.ClassificationResult{Label: models.FallbackIntent}
		res.Degraded = string(apperrors.ErrCodeEncodingError)
		req.SkipFuzzy = true
		req.SkipSemantic = true
	default:
		res.Classification = models.ClassificationResult{Label: models.FallbackIntent}
		res.Degraded = string(apperrors.Normalize(err).Code)
		req.SkipSemantic = true
	}
	if res.Degraded != "" {
		metrics.Fallbacks.WithLabelValues(strings.ToLower(res.Degraded)).Inc()
		p.logger.Warn("Turn degraded to fallback", map[string]interface{}{
			"sessionId": sessionID,
			"reason":    res.Degraded,
		})
	} else if res.Classification.IsFallback() {
		metrics.Fallbacks.WithLabelValues("low_confidence").Inc()
	}

	in, known := snap.domain.Intent(res.Classification.Label)
	if known {
		req.ExpectedTypes = in.Expected()
	}
	req.Intent = res.Classification.Label
	req.History = mem.RecentTurns(p.cfg.Entity.CorefLookback)
	xctx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	res.Entities = snap.extractor.Extract(xctx, req)
	cancel()

	action := snap.orchestrator.Decide(res, mem)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "turn abandoned")
		return nil, apperrors.NewTurnAbandonedError(sessionID, err)
	}

	upd := memory.Update{Result: res, Action: action}
	if known && in.KnowledgeDomain != "" {
		upd.Topic = in.TopicName()
	}
	if _, err := p.memory.Merge(ctx, sessionID, upd); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeTurnAbandoned) {
			span.SetStatus(codes.Error, "turn abandoned")
			return nil, err
		}
		p.logger.Warn("Failed to merge session memory", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}

	elapsed := p.now().Sub(start)
	metrics.TurnsProcessed.WithLabelValues(res.Classification.Label, string(action.Kind)).Inc()
	metrics.TurnDuration.WithLabelValues(string(action.Kind)).Observe(elapsed.Seconds())
	if p.recorder != nil {
		p.recorder.RecordTurn(ctx, string(action.Kind), elapsed)
	}
	span.SetAttributes(
		attribute.String("nlu.language", lang),
		attribute.String("nlu.intent", res.Classification.Label),
		attribute.Float64("nlu.confidence", res.Classification.Confidence),
		attribute.Int("nlu.entities", len(res.Entities)),
		attribute.String("dialog.action", string(action.Kind)),
		attribute.String("dialog.state", string(action.TargetState)),
	)

	p.logger.Debug("Utterance processed", map[string]interface{}{
		"sessionId":  sessionID,
		"language":   lang,
		"intent":     res.Classification.Label,
		"confidence": res.Classification.Confidence,
		"entities":   len(res.Entities),
		"action":     string(action.Kind),
		"state":      string(action.TargetState),
	})
	return &models.TurnOutcome{Result: res, Action: action}, nil
}

func (p *Pipeline) lock(ctx context.Context, sessionID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, p.cfg.LockTimeout)
	defer cancel()
	unlock, err := p.locks.Lock(lctx, sessionID)
	if err == nil {
		return unlock, nil
	}
	if ctx.Err() != nil {
		return nil, apperrors.NewTurnAbandonedError(sessionID, ctx.Err())
	}
	return nil, apperrors.NewTimeoutError("session lock", err)
}

// readMemory returns the session snapshot, or nil for a new, expired or unreadable session.
func (p *Pipeline) readMemory(ctx context.Context, sessionID string) *models.Memory {
	mem, err := p.memory.Read(ctx, sessionID)
	switch {
	case err == nil:
		return mem
	case apperrors.HasCode(err, apperrors.ErrCodeSessionExpired):
		p.logger.Info("Session expired, starting fresh", map[string]interface{}{"sessionId": sessionID})
	default:
		p.logger.Warn("Failed to read session memory", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
	return nil
}

func (p *Pipeline) embed(ctx context.Context, text, lang string) (embedding.Vector, error) {
	ectx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()
	return p.embedder.Embed(ectx, text, lang)
}

func expectedIntent(mem *models.Memory) string {
	if mem == nil {
		return ""
	}
	return mem.ExpectedIntent
}
