package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "tourism-assistant/internal/common/errors"
)

// Loader builds and warms a provider.
type Loader func(ctx context.Context) (Provider, error)

// Lazy defers model loading to first use. Concurrent first calls share one load;
// a failed load is retried on the next call.
type Lazy struct {
	model       string
	dimension   int
	load        Loader
	loadTimeout time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	p     Provider
}

func NewLazy(model string, dimension int, loadTimeout time.Duration, load Loader) *Lazy {
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}
	return &Lazy{model: model, dimension: dimension, load: load, loadTimeout: loadTimeout}
}

// Load returns the provider, loading it at most once at a time.
// The load keeps running when ctx ends so later callers can still use it.
func (l *Lazy) Load(ctx context.Context) (Provider, error) {
	if p := l.loaded(); p != nil {
		return p, nil
	}

	ch := l.group.DoChan("load", func() (interface{}, error) {
		if p := l.loaded(); p != nil {
			return p, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()
		p, err := l.load(lctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.p = p
		l.mu.Unlock()
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if apperrors.CodeOf(res.Err) != "" {
				return nil, res.Err
			}
			return nil, apperrors.NewModelUnavailableError(l.model, res.Err)
		}
		return res.Val.(Provider), nil
	case <-ctx.Done():
		return nil, apperrors.NewModelTimeoutError(l.model)
	}
}

// Ready reports whether the provider has been loaded.
func (l *Lazy) Ready() bool {
	return l.loaded() != nil
}

func (l *Lazy) loaded() Provider {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.p
}

func (l *Lazy) Embed(ctx context.Context, text, languageHint string) (Vector, error) {
	p, err := l.Load(ctx)
	if err != nil {
		return Vector{}, err
	}
	return p.Embed(ctx, text, languageHint)
}

func (l *Lazy) Model() string {
	if p := l.loaded(); p != nil {
		return p.Model()
	}
	return l.model
}

func (l *Lazy) Dimension() int {
	if p := l.loaded(); p != nil {
		return p.Dimension()
	}
	return l.dimension
}
