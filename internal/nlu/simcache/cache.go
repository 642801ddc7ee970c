// Package simcache memoizes embeddings by model and normalized text in a bounded LRU,
// with a pinned set that is never evicted and optional write-through persistence.
package simcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/nlu/embedding"
)

type Config struct {
	Capacity       int
	ComputeTimeout time.Duration
}

// Entry is one persisted embedding; Key is the normalized text. Persisters scope entries
// by model themselves.
type Entry struct {
	Key    string
	Values []float32
}

// Persister stores embeddings across restarts, scoped by model.
type Persister interface {
	// Load returns at most limit entries, least recently written first.
	Load(ctx context.Context, model string, limit int) ([]Entry, error)
	Store(ctx context.Context, model string, e Entry) error
	Close() error
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Pinned    int   `json:"pinned"`
}

// Cache implements embedding.Provider over another provider.
type Cache struct {
	provider  embedding.Provider
	persister Persister
	cfg       Config
	logger    Logger

	entries *lru.Cache[string, []float32]
	group   singleflight.Group

	// pinned is keyed like entries and replaced per domain snapshot by RetainPinned.
	pinnedMu sync.RWMutex
	pinned   map[string][]float32

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func New(provider embedding.Provider, cfg Config, persister Persister, log Logger) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5000
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 10 * time.Second
	}
	c := &Cache{
		provider:  provider,
		persister: persister,
		cfg:       cfg,
		logger:    log,
		pinned:    make(map[string][]float32),
	}
	entries, err := lru.NewWithEvict[string, []float32](cfg.Capacity, func(string, []float32) {
		c.evictions.Add(1)
		metrics.EmbeddingCacheEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *Cache) Model() string  { return c.provider.Model() }
func (c *Cache) Dimension() int { return c.provider.Dimension() }

// cacheKey scopes a normalized text by model so a provider that changes its model
// never serves vectors computed by another one.
func cacheKey(model, normalized string) string {
	return model + "\x1f" + normalized
}

// Embed returns the cached vector for text's normalized form, computing it on a miss.
// Concurrent misses on one key share a single computation. The computation is detached
// from ctx so an abandoned caller still leaves the result in the cache.
func (c *Cache) Embed(ctx context.Context, text, languageHint string) (embedding.Vector, error) {
	norm := embedding.Normalize(text)
	if norm == "" {
		return embedding.Vector{}, apperrors.NewEncodingError("text is empty")
	}
	model := c.provider.Model()
	key := cacheKey(model, norm)
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		metrics.EmbeddingCacheRequests.WithLabelValues("hit").Inc()
		return embedding.Vector{Values: v, Model: model}, nil
	}
	c.misses.Add(1)
	metrics.EmbeddingCacheRequests.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)
		defer cancel()
		return c.compute(cctx, norm, languageHint)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return embedding.Vector{}, res.Err
		}
		return res.Val.(embedding.Vector), nil
	case <-ctx.Done():
		return embedding.Vector{}, apperrors.NewModelTimeoutError(c.provider.Model())
	}
}

// compute embeds a normalized text and caches it under the model that produced the vector.
func (c *Cache) compute(ctx context.Context, norm, languageHint string) (embedding.Vector, error) {
	start := time.Now()
	v, err := c.provider.Embed(ctx, norm, languageHint)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingDuration.WithLabelValues(c.provider.Model(), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return embedding.Vector{}, err
	}

	c.entries.Add(cacheKey(v.Model, norm), v.Values)
	if c.persister != nil {
		if perr := c.persister.Store(ctx, v.Model, Entry{Key: norm, Values: v.Values}); perr != nil {
			c.logger.Warn("Failed to persist embedding", map[string]interface{}{
				"model": v.Model,
				"error": perr.Error(),
			})
		}
	}
	return v, nil
}

func (c *Cache) lookup(key string) ([]float32, bool) {
	c.pinnedMu.RLock()
	v, ok := c.pinned[key]
	c.pinnedMu.RUnlock()
	if ok {
		return v, true
	}
	return c.entries.Get(key)
}

// Pin embeds texts and keeps them outside the LRU. Failures abort the whole call.
func (c *Cache) Pin(ctx context.Context, texts []string, languageHint string) (map[string]embedding.Vector, error) {
	out := make(map[string]embedding.Vector, len(texts))
	model := c.provider.Model()
	for _, text := range texts {
		norm := embedding.Normalize(text)
		if norm == "" {
			continue
		}
		if v, ok := c.lookup(cacheKey(model, norm)); ok {
			c.setPinned(cacheKey(model, norm), v)
			out[text] = embedding.Vector{Values: v, Model: model}
			continue
		}
		v, err := c.provider.Embed(ctx, norm, languageHint)
		if err != nil {
			return nil, err
		}
		c.setPinned(cacheKey(v.Model, norm), v.Values)
		out[text] = v
	}
	return out, nil
}

// RetainPinned keeps only the pinned entries for texts under the current model. Released
// entries move back into the LRU, where they are subject to eviction again. It returns the
// number of released entries.
func (c *Cache) RetainPinned(texts []string) int {
	model := c.provider.Model()
	keep := make(map[string]struct{}, len(texts))
	for _, text := range texts {
		if norm := embedding.Normalize(text); norm != "" {
			keep[cacheKey(model, norm)] = struct{}{}
		}
	}

	released := make(map[string][]float32)
	c.pinnedMu.Lock()
	for key, v := range c.pinned {
		if _, ok := keep[key]; !ok {
			released[key] = v
			delete(c.pinned, key)
		}
	}
	c.pinnedMu.Unlock()

	for key, v := range released {
		c.entries.Add(key, v)
	}
	if len(released) > 0 {
		c.logger.Debug("Released pinned embeddings", map[string]interface{}{
			"released": len(released),
			"pinned":   len(keep),
		})
	}
	return len(released)
}

// PinVector pins a precomputed vector. It is rejected when the model or dimension differs.
func (c *Cache) PinVector(text string, v embedding.Vector) error {
	if v.Model != c.provider.Model() || (c.provider.Dimension() > 0 && len(v.Values) != c.provider.Dimension()) {
		return apperrors.NewModelMismatchError(c.provider.Model(), v.Model)
	}
	norm := embedding.Normalize(text)
	if norm == "" {
		return apperrors.NewEncodingError("text is empty")
	}
	c.setPinned(cacheKey(v.Model, norm), v.Values)
	return nil
}

func (c *Cache) setPinned(key string, v []float32) {
	c.pinnedMu.Lock()
	c.pinned[key] = v
	c.pinnedMu.Unlock()
}

// Warm loads persisted entries for the current model into the LRU.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.persister == nil {
		return 0, nil
	}
	model := c.provider.Model()
	entries, err := c.persister.Load(ctx, model, c.cfg.Capacity)
	if err != nil {
		return 0, err
	}
	dim := c.provider.Dimension()
	n := 0
	for _, e := range entries {
		if dim > 0 && len(e.Values) != dim {
			continue
		}
		c.entries.Add(cacheKey(model, e.Key), e.Values)
		n++
	}
	c.logger.Debug("Embedding cache warmed", map[string]interface{}{
		"model":   model,
		"entries": n,
	})
	return n, nil
}

func (c *Cache) Stats() Stats {
	c.pinnedMu.RLock()
	pinned := len(c.pinned)
	c.pinnedMu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.entries.Len(),
		Pinned:    pinned,
	}
}

func (c *Cache) Close() error {
	if c.persister == nil {
		return nil
	}
	return c.persister.Close()
}
