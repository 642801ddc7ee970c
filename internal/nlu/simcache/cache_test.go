package simcache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourism-assistant/internal/common/database"
	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/nlu/embedding"
)

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(msg string, fields map[string]interface{}) { l.t.Logf("DEBUG: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{})  { l.t.Logf("WARN: %s %v", msg, fields) }

// countingProvider wraps the hashing embedder and counts calls.
type countingProvider struct {
	inner *embedding.Hashing
	calls atomic.Int32
	delay time.Duration
}

func newCountingProvider(delay time.Duration) *countingProvider {
	return &countingProvider{inner: embedding.NewHashing(32, 0), delay: delay}
}

func (p *countingProvider) Embed(ctx context.Context, text, hint string) (embedding.Vector, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return embedding.Vector{}, apperrors.NewModelTimeoutError(p.Model())
		}
	}
	return p.inner.Embed(ctx, text, hint)
}

func (p *countingProvider) Model() string  { return p.inner.Model() }
func (p *countingProvider) Dimension() int { return p.inner.Dimension() }

func newCache(t *testing.T, p embedding.Provider, capacity int, persister Persister) *Cache {
	t.Helper()
	c, err := New(p, Config{Capacity: capacity, ComputeTimeout: time.Second}, persister, &TestLogger{t})
	require.NoError(t, err)
	return c
}

func TestCache_HitOnNormalizedText(t *testing.T) {
	p := newCountingProvider(0)
	c := newCache(t, p, 10, nil)
	ctx := context.Background()

	a, err := c.Embed(ctx, "Hotels in Luxor", "en")
	require.NoError(t, err)
	b, err := c.Embed(ctx, "  hotels IN luxor", "en")
	require.NoError(t, err)

	assert.Equal(t, a.Values, b.Values)
	assert.Equal(t, int32(1), p.calls.Load())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_ConcurrentMissesComputeOnce(t *testing.T) {
	p := newCountingProvider(30 * time.Millisecond)
	c := newCache(t, p, 10, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "pyramids of giza", "en")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
}

func TestCache_AbandonedCallerStillPopulates(t *testing.T) {
	p := newCountingProvider(50 * time.Millisecond)
	c := newCache(t, p, 10, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := c.Embed(ctx, "nile cruise", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelTimeout))

	assert.Eventually(t, func() bool { return c.Stats().Size == 1 }, time.Second, 5*time.Millisecond)

	_, err = c.Embed(context.Background(), "nile cruise", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestCache_EvictionKeepsPinned(t *testing.T) {
	p := newCountingProvider(0)
	c := newCache(t, p, 2, nil)
	ctx := context.Background()

	_, err := c.Pin(ctx, []string{"hello"}, "en")
	require.NoError(t, err)

	for _, text := range []string{"cairo", "luxor", "aswan"} {
		_, err := c.Embed(ctx, text, "en")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Size)
	assert.Equal(t, int64(1), c.Stats().Evictions)

	before := p.calls.Load()
	_, err = c.Embed(ctx, "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, before, p.calls.Load(), "pinned entry must not be recomputed")

	_, err = c.Embed(ctx, "cairo", "en")
	require.NoError(t, err)
	assert.Equal(t, before+1, p.calls.Load(), "evicted entry is recomputed")
}

func TestCache_PinVectorRejectsOtherModel(t *testing.T) {
	c := newCache(t, newCountingProvider(0), 10, nil)

	err := c.PinVector("hello", embedding.Vector{Values: make([]float32, 32), Model: "other"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelMismatch))

	err = c.PinVector("hello", embedding.Vector{Values: make([]float32, 32), Model: c.Model()})
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Pinned)
}

func TestCache_RetainPinnedReleasesStaleEntries(t *testing.T) {
	p := newCountingProvider(0)
	c := newCache(t, p, 2, nil)
	ctx := context.Background()

	_, err := c.Pin(ctx, []string{"hello", "goodbye"}, "en")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Stats().Pinned)

	assert.Equal(t, 1, c.RetainPinned([]string{"Hello"}))
	assert.Equal(t, 1, c.Stats().Pinned)
	assert.Equal(t, 1, c.Stats().Size, "released entry moves into the LRU")

	before := p.calls.Load()
	_, err = c.Embed(ctx, "goodbye", "en")
	require.NoError(t, err)
	assert.Equal(t, before, p.calls.Load())

	for _, text := range []string{"cairo", "luxor"} {
		_, err := c.Embed(ctx, text, "en")
		require.NoError(t, err)
	}
	_, err = c.Embed(ctx, "goodbye", "en")
	require.NoError(t, err)
	assert.Equal(t, before+3, p.calls.Load(), "released entry is evictable")

	_, err = c.Embed(ctx, "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, before+3, p.calls.Load(), "retained entry stays pinned")
}

// switchingProvider reports whatever model it is currently set to.
type switchingProvider struct {
	inner *embedding.Hashing
	calls atomic.Int32
	mu    sync.Mutex
	model string
}

func (p *switchingProvider) Embed(ctx context.Context, text, hint string) (embedding.Vector, error) {
	p.calls.Add(1)
	v, err := p.inner.Embed(ctx, text, hint)
	v.Model = p.Model()
	return v, err
}

func (p *switchingProvider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *switchingProvider) Dimension() int { return p.inner.Dimension() }

func (p *switchingProvider) setModel(m string) {
	p.mu.Lock()
	p.model = m
	p.mu.Unlock()
}

func TestCache_KeyIncludesModel(t *testing.T) {
	p := &switchingProvider{inner: embedding.NewHashing(32, 0), model: "configured"}
	c := newCache(t, p, 10, nil)
	ctx := context.Background()

	v, err := c.Embed(ctx, "karnak temple", "en")
	require.NoError(t, err)
	assert.Equal(t, "configured", v.Model)

	p.setModel("loaded")
	v, err = c.Embed(ctx, "karnak temple", "en")
	require.NoError(t, err)
	assert.Equal(t, "loaded", v.Model)
	assert.Equal(t, int32(2), p.calls.Load())

	_, err = c.Embed(ctx, "Karnak Temple", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	p := newCountingProvider(0)
	c := newCache(t, p, 10, nil)

	_, err := c.Embed(context.Background(), "...", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEncodingError))
	assert.Equal(t, 0, c.Stats().Size)
}

func TestSQLitePersister_WarmRestoresEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := database.OpenSQLite(path)
	require.NoError(t, err)
	persister, err := NewSQLitePersister(ctx, db)
	require.NoError(t, err)

	p := newCountingProvider(0)
	c := newCache(t, p, 10, persister)
	_, err = c.Embed(ctx, "abu simbel", "en")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	db2, err := database.OpenSQLite(path)
	require.NoError(t, err)
	persister2, err := NewSQLitePersister(ctx, db2)
	require.NoError(t, err)
	defer persister2.Close()

	p2 := newCountingProvider(0)
	c2 := newCache(t, p2, 10, persister2)
	n, err := c2.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c2.Embed(ctx, "Abu Simbel", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(0), p2.calls.Load())
}

func TestRedisPersister_RoundTripNewestLast(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	persister := NewRedisPersister(client, "test:emb")

	require.NoError(t, persister.Store(ctx, "m", Entry{Key: "first", Values: []float32{1, 0}}))
	time.Sleep(time.Millisecond)
	require.NoError(t, persister.Store(ctx, "m", Entry{Key: "second", Values: []float32{0, 1}}))

	entries, err := persister.Load(ctx, "m", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Key)
	assert.Equal(t, "second", entries[1].Key)
	assert.Equal(t, []float32{0, 1}, entries[1].Values)

	limited, err := persister.Load(ctx, "m", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "second", limited[0].Key)

	other, err := persister.Load(ctx, "other-model", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
