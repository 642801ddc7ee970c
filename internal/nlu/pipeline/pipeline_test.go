package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/logger"
	"tourism-assistant/internal/dialog/memory"
	"tourism-assistant/internal/dialog/orchestrator"
	"tourism-assistant/internal/models"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
	"tourism-assistant/internal/nlu/entity"
	"tourism-assistant/internal/nlu/intent"
	"tourism-assistant/internal/nlu/language"
	"tourism-assistant/internal/nlu/simcache"
)

const (
	modeOK int32 = iota
	modeBlock
)

// switchProvider is the hashing embedder with a switch that makes calls hang until cancelled.
type switchProvider struct {
	inner *embedding.Hashing
	mode  atomic.Int32
}

func (p *switchProvider) Embed(ctx context.Context, text, hint string) (embedding.Vector, error) {
	if p.mode.Load() == modeBlock {
		<-ctx.Done()
		return embedding.Vector{}, ctx.Err()
	}
	return p.inner.Embed(ctx, text, hint)
}

func (p *switchProvider) Model() string  { return p.inner.Model() }
func (p *switchProvider) Dimension() int { return p.inner.Dimension() }

type fixture struct {
	pipeline *Pipeline
	provider *switchProvider
	cache    *simcache.Cache
	memory   *memory.Manager
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func shippedDomain(t *testing.T) *domain.Domain {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "configs", "domain.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("configs/domain.yaml not found")
	}
	d, err := domain.Load(path)
	require.NoError(t, err)
	return d
}

func testConfig() Config {
	return Config{
		EmbedTimeout: 100 * time.Millisecond,
		LockTimeout:  time.Second,
		Intent:       intent.Config{MinConfidence: 0.55, TieEpsilon: 0.01, ContextBonus: 0.05, FallbackLanguage: "en"},
		Entity: entity.Config{
			PatternConfidence:     0.9,
			FuzzyFloor:            0.8,
			FuzzyMaxConfidence:    0.9,
			SemanticFloor:         0.78,
			SemanticMaxConfidence: 0.85,
			MaxSpanTokens:         3,
			CorefLookback:         3,
		},
		Dialog: orchestrator.Config{GreetingThreshold: 0.7, FarewellThreshold: 0.7, FallbackContentKey: "fallback.generic"},
	}
}

func newFixture(t *testing.T, d *domain.Domain) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)

	provider := &switchProvider{inner: embedding.NewHashing(256, 2000)}
	cache, err := simcache.New(provider, simcache.Config{Capacity: 1000, ComputeTimeout: 200 * time.Millisecond}, nil, log)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	mem := memory.NewManager(memory.NewInMemoryStore(), memory.Config{
		TTL:                30 * time.Minute,
		MaxTurns:           20,
		MaxTopics:          5,
		MinMergeConfidence: 0.6,
	}, log).WithClock(clk.Now)

	detector := language.New(language.Config{
		Supported: []string{"en", "ar", "fr", "de"},
		Fallback:  "en",
		MinChars:  4,
		MinScore:  0.15,
	})

	p, err := New(context.Background(), testConfig(), d, detector, cache, mem, log, WithClock(clk.Now))
	require.NoError(t, err)
	return &fixture{pipeline: p, provider: provider, cache: cache, memory: mem, clock: clk}
}

func TestProcessUtterance_Greeting(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	ctx := context.Background()

	out, err := f.pipeline.ProcessUtterance(ctx, "Hello", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "en", out.Result.Language)
	assert.Equal(t, models.IntentGreeting, out.Result.Classification.Label)
	assert.GreaterOrEqual(t, out.Result.Classification.Confidence, 0.95)
	assert.Equal(t, models.ActionRespond, out.Action.Kind)
	assert.Equal(t, "greeting", out.Action.ContentKey)
	assert.Equal(t, models.StateInformationGathering, out.Action.TargetState)
	assert.NotEmpty(t, out.Result.Utterance.ID)

	mem, err := f.memory.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StateInformationGathering, mem.State)
}

func TestProcessUtterance_CoreferenceAcrossTurns(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	ctx := context.Background()

	first, err := f.pipeline.ProcessUtterance(ctx, "Hotels in Luxor", "s1", "en")
	require.NoError(t, err)
	require.Equal(t, "hotel_query", first.Result.Classification.Label)
	require.Equal(t, models.ActionQueryKnowledge, first.Action.Kind)

	out, err := f.pipeline.ProcessUtterance(ctx, "What hotels are near it?", "s1", "en")
	require.NoError(t, err)
	assert.Equal(t, "hotel_query", out.Result.Classification.Label)

	loc, ok := out.Result.EntityOf("location")
	require.True(t, ok)
	assert.Equal(t, "Luxor", loc.Value)
	assert.Equal(t, models.SourceCoreference, loc.Source)
	assert.Equal(t, first.Result.Utterance.ID, loc.ResolvedFrom)

	assert.Equal(t, models.ActionQueryKnowledge, out.Action.Kind)
	assert.Equal(t, "hotels", out.Action.Domain)
	assert.Equal(t, map[string]string{"location": "Luxor"}, out.Action.Filters)
}

const bookingDomain = `
version: "test"
intents:
  - name: greeting
    examples:
      en: ["hello"]
  - name: hotel_query
    knowledge_domain: hotels
    required_entities: [location, date]
    examples:
      en: ["book me something", "hotels in luxor"]
entities:
  - type: location
    values:
      - canonical: Luxor
  - type: date
    fuzzy: false
    patterns:
      - regex: '(?i)\b(?:today|tomorrow)\b'
        normalizer: date
`

func TestProcessUtterance_ClarifyMissingEntity(t *testing.T) {
	d, err := domain.Parse([]byte(bookingDomain))
	require.NoError(t, err)
	f := newFixture(t, d)
	ctx := context.Background()

	out, err := f.pipeline.ProcessUtterance(ctx, "Book me something", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "hotel_query", out.Result.Classification.Label)
	assert.Empty(t, out.Result.Entities)
	assert.Equal(t, models.ActionClarify, out.Action.Kind)
	assert.Equal(t, "location", out.Action.MissingEntity())
	assert.Equal(t, []string{"location", "date"}, out.Action.MissingEntities)
	assert.Equal(t, models.StateClarifying, out.Action.TargetState)

	mem, err := f.memory.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StateClarifying, mem.State)
	assert.Equal(t, "location", mem.PendingEntity)
	assert.Equal(t, "hotel_query", mem.ExpectedIntent)
}

func TestProcessUtterance_ModelTimeoutFallsBack(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	f.provider.mode.Store(modeBlock)

	out, err := f.pipeline.ProcessUtterance(context.Background(), "Hotels in Luxor please", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationResult{Label: models.FallbackIntent, Confidence: 0}, out.Result.Classification)
	assert.Equal(t, string(apperrors.ErrCodeModelTimeout), out.Result.Degraded)
	assert.Equal(t, models.ActionRespond, out.Action.Kind)
	assert.Equal(t, "fallback.generic", out.Action.ContentKey)

	// pattern entities survive the fallback
	loc, ok := out.Result.EntityOf("location")
	require.True(t, ok)
	assert.Equal(t, "Luxor", loc.Value)
}

func TestProcessUtterance_EncodingErrorUsesPatternsOnly(t *testing.T) {
	f := newFixture(t, shippedDomain(t))

	out, err := f.pipeline.ProcessUtterance(context.Background(), "?!", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, models.FallbackIntent, out.Result.Classification.Label)
	assert.Equal(t, string(apperrors.ErrCodeEncodingError), out.Result.Degraded)
	assert.Equal(t, models.ActionRespond, out.Action.Kind)
}

func TestProcessUtterance_InvalidInput(t *testing.T) {
	f := newFixture(t, shippedDomain(t))

	_, err := f.pipeline.ProcessUtterance(context.Background(), "hello", "", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = f.pipeline.ProcessUtterance(context.Background(), "   ", "s1", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestProcessUtterance_AbandonedTurnDoesNotMutateMemory(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	f.pipeline.cfg.EmbedTimeout = time.Second

	_, err := f.pipeline.ProcessUtterance(context.Background(), "Hotels in Luxor", "s1", "")
	require.NoError(t, err)

	f.provider.mode.Store(modeBlock)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.pipeline.ProcessUtterance(ctx, "Hotels in Aswan", "s1", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTurnAbandoned))

	mem, err := f.memory.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, mem.Turns, 1)
	assert.Equal(t, "Luxor", mem.Entities["location"].Value)
}

func TestProcessUtterance_ExpiredSessionStartsFresh(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	ctx := context.Background()

	_, err := f.pipeline.ProcessUtterance(ctx, "Hotels in Luxor", "s1", "")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	out, err := f.pipeline.ProcessUtterance(ctx, "What hotels are near it?", "s1", "")
	require.NoError(t, err)
	_, ok := out.Result.EntityOf("location")
	assert.False(t, ok)
	assert.Equal(t, models.ActionClarify, out.Action.Kind)

	mem, err := f.memory.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, mem.Turns, 1)
	assert.Equal(t, int64(1), mem.Version)
}

func TestProcessUtterance_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	ctx := context.Background()
	cities := []string{"Luxor", "Aswan"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("s%d", i)
			for turn := 0; turn < 3; turn++ {
				_, err := f.pipeline.ProcessUtterance(ctx, "Hotels in "+cities[i%2], sessionID, "en")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		mem, err := f.memory.Read(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Equal(t, cities[i%2], mem.Entities["location"].Value)
		assert.Len(t, mem.Turns, 3)
	}
	assert.Equal(t, 0, f.pipeline.locks.size())
}

func TestProcessUtterance_SameSessionIsSerialized(t *testing.T) {
	f := newFixture(t, shippedDomain(t))
	ctx := context.Background()

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.ProcessUtterance(ctx, "thank you", "shared", "en")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mem, err := f.memory.Read(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(turns), mem.Version)
	assert.Len(t, mem.Turns, turns)
}

func TestPipeline_Reload(t *testing.T) {
	d := shippedDomain(t)
	f := newFixture(t, d)
	ctx := context.Background()

	updated, report := d.WithCorrections([]domain.Correction{{
		Text:     "is there a spa with a sauna",
		Language: "en",
		Intent:   "hotel_query",
	}})
	require.True(t, report.Changed())
	require.NoError(t, f.pipeline.Reload(ctx, updated))
	assert.Equal(t, updated.Version, f.pipeline.Domain().Version)

	out, err := f.pipeline.ProcessUtterance(ctx, "Is there a spa with a sauna", "s1", "en")
	require.NoError(t, err)
	assert.Equal(t, "hotel_query", out.Result.Classification.Label)
	assert.InDelta(t, 1.0, out.Result.Classification.Confidence, 1e-6)
}

func TestPipeline_ReloadReleasesUnusedPins(t *testing.T) {
	d := shippedDomain(t)
	f := newFixture(t, d)
	ctx := context.Background()
	base := f.cache.Stats().Pinned

	updated, _ := d.WithCorrections([]domain.Correction{{
		Text:     "any felucca moorings by the corniche",
		Language: "en",
		Intent:   "hotel_query",
	}})
	require.NoError(t, f.pipeline.Reload(ctx, updated))
	grown := f.cache.Stats().Pinned
	assert.Greater(t, grown, base)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.pipeline.Reload(ctx, updated))
	}
	assert.Equal(t, grown, f.cache.Stats().Pinned, "repeated reloads do not grow the pinned set")

	require.NoError(t, f.pipeline.Reload(ctx, d))
	assert.Equal(t, base, f.cache.Stats().Pinned)
}

func TestKeyedLock(t *testing.T) {
	locks := newKeyedLock()

	unlock, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, locks.size())

	again, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
