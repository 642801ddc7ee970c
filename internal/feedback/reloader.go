package feedback

import (
	"context"
	"sync"
	"time"

	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/nlu/domain"
)

// Target receives the merged domain model, normally the NLU pipeline.
type Target interface {
	Reload(ctx context.Context, d *domain.Domain) error
}

// Reloader merges stored corrections into the base domain model and hands the result to the
// target. Every correction is applied on top of the immutable base, so a reload is idempotent.
type Reloader struct {
	repo   Repository
	base   *domain.Domain
	target Target
	logger Logger

	mu     sync.Mutex
	loaded bool
}

func NewReloader(repo Repository, base *domain.Domain, target Target, log Logger) *Reloader {
	return &Reloader{repo: repo, base: base, target: target, logger: log}
}

// Reload rebuilds the target when there are pending corrections, or on the first call.
// It reports whether the target was reloaded.
func (r *Reloader) Reload(ctx context.Context) (bool, domain.MergeReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.repo.Pending(ctx)
	if err != nil {
		return false, domain.MergeReport{}, err
	}
	if r.loaded && len(pending) == 0 {
		return false, domain.MergeReport{}, nil
	}

	all, err := r.repo.List(ctx)
	if err != nil {
		return false, domain.MergeReport{}, err
	}
	merged, report := Merge(r.base, all)
	if report.Changed() || !r.loaded {
		if err := r.target.Reload(ctx, merged); err != nil {
			return false, report, err
		}
	}
	r.loaded = true

	ids := make([]string, len(pending))
	for i, c := range pending {
		ids[i] = c.ID
	}
	if err := r.repo.MarkApplied(ctx, ids); err != nil {
		return true, report, err
	}

	metrics.FeedbackCorrections.WithLabelValues("applied").Add(float64(len(pending)))
	metrics.FeedbackCorrections.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	r.logger.Info("Feedback applied to domain model", map[string]interface{}{
		"version":  merged.Version,
		"pending":  len(pending),
		"examples": report.Examples,
		"values":   report.Values,
		"aliases":  report.Aliases,
		"skipped":  len(report.Skipped),
	})
	return true, report, nil
}

// Run reloads immediately and then on every tick until ctx is done.
func (r *Reloader) Run(ctx context.Context, interval time.Duration) {
	if _, _, err := r.Reload(ctx); err != nil {
		r.logger.Warn("Feedback reload failed", map[string]interface{}{"error": err.Error()})
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.Reload(ctx); err != nil {
				r.logger.Warn("Feedback reload failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Merge applies corrections to base without modifying it.
func Merge(base *domain.Domain, corrections []Correction) (*domain.Domain, domain.MergeReport) {
	converted := make([]domain.Correction, len(corrections))
	for i, c := range corrections {
		converted[i] = c.ToDomain()
	}
	return base.WithCorrections(converted)
}
