package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
)

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{}) { l.t.Logf("WARN: %s %v", msg, fields) }

type memoryRepo struct {
	mu        sync.Mutex
	rows      []Correction
	recordErr error
}

func (r *memoryRepo) Record(_ context.Context, c *Correction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.rows = append(r.rows, *c)
	return nil
}

func (r *memoryRepo) List(context.Context) ([]Correction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Correction(nil), r.rows...), nil
}

func (r *memoryRepo) Pending(context.Context) ([]Correction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Correction
	for _, c := range r.rows {
		if c.AppliedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkApplied(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for i := range r.rows {
		for _, id := range ids {
			if r.rows[i].ID == id {
				r.rows[i].AppliedAt = &now
			}
		}
	}
	return nil
}

type recordingTarget struct {
	domains []*domain.Domain
	err     error
}

func (t *recordingTarget) Reload(_ context.Context, d *domain.Domain) error {
	if t.err != nil {
		return t.err
	}
	t.domains = append(t.domains, d)
	return nil
}

type stubEmbedder struct {
	err error
}

func (s stubEmbedder) Embed(context.Context, string, string) (embedding.Vector, error) {
	if s.err != nil {
		return embedding.Vector{}, s.err
	}
	return embedding.Vector{Values: []float32{1, 0}, Model: "stub"}, nil
}

const baseDomain = `
version: "3"
intents:
  - name: greeting
    examples:
      en: ["hello"]
  - name: hotel_query
    knowledge_domain: hotels
    required_entities: [location]
    examples:
      en: ["hotels in luxor"]
entities:
  - type: location
    values:
      - canonical: Luxor
      - canonical: Aswan
`

func loadBase(t *testing.T) *domain.Domain {
	t.Helper()
	d, err := domain.Parse([]byte(baseDomain))
	require.NoError(t, err)
	return d
}

func TestIngestor_Submit(t *testing.T) {
	repo := &memoryRepo{}
	ing := NewIngestor(repo, stubEmbedder{}, &TestLogger{t})

	c, err := ing.Submit(context.Background(), Submission{
		SessionID:     "s-1",
		Text:          "  any rooms near karnak ",
		Language:      "en",
		CorrectIntent: "hotel_query",
		Entities:      []CorrectedEntity{{Type: "location", Value: "Luxor", Text: "karnak"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "any rooms near karnak", c.Text)
	assert.Equal(t, []float32{1, 0}, c.Embedding)
	require.Len(t, repo.rows, 1)
	assert.Nil(t, repo.rows[0].AppliedAt)
}

func TestIngestor_SubmitWithoutEmbedding(t *testing.T) {
	repo := &memoryRepo{}
	ing := NewIngestor(repo, stubEmbedder{err: errors.New("model down")}, &TestLogger{t})

	c, err := ing.Submit(context.Background(), Submission{Text: "rooms in aswan", Language: "en", CorrectIntent: "hotel_query"})
	require.NoError(t, err)
	assert.Empty(t, c.Embedding)
	assert.Len(t, repo.rows, 1)
}

func TestIngestor_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{name: "empty text", sub: Submission{Text: "   ", Language: "en", CorrectIntent: "hotel_query"}},
		{name: "missing language", sub: Submission{Text: "rooms", CorrectIntent: "hotel_query"}},
		{name: "nothing corrected", sub: Submission{Text: "rooms", Language: "en"}},
		{name: "entity without value", sub: Submission{Text: "rooms", Language: "en", Entities: []CorrectedEntity{{Type: "location"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memoryRepo{}
			_, err := NewIngestor(repo, nil, &TestLogger{t}).Submit(context.Background(), tt.sub)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput), "got %v", err)
			assert.Empty(t, repo.rows)
		})
	}
}

func TestIngestor_StoreFailure(t *testing.T) {
	repo := &memoryRepo{recordErr: apperrors.NewFeedbackStoreFailedError("record", errors.New("down"))}
	_, err := NewIngestor(repo, nil, &TestLogger{t}).Submit(context.Background(),
		Submission{Text: "rooms", Language: "en", CorrectIntent: "hotel_query"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFeedbackStoreFailed))
}

func TestReloader_AppliesPendingCorrections(t *testing.T) {
	base := loadBase(t)
	repo := &memoryRepo{}
	target := &recordingTarget{}
	r := NewReloader(repo, base, target, &TestLogger{t})
	ctx := context.Background()

	reloaded, _, err := r.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded, "first reload always reaches the target")
	require.Len(t, target.domains, 1)
	assert.Equal(t, "3", target.domains[0].Version)

	reloaded, _, err = r.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)

	ing := NewIngestor(repo, nil, &TestLogger{t})
	_, err = ing.Submit(ctx, Submission{
		Text:          "any rooms near karnak",
		Language:      "en",
		CorrectIntent: "hotel_query",
		Entities:      []CorrectedEntity{{Type: "location", Value: "Luxor", Text: "karnak"}},
	})
	require.NoError(t, err)
	_, err = ing.Submit(ctx, Submission{Text: "quiet places", Language: "en", CorrectIntent: "spa_query"})
	require.NoError(t, err)

	reloaded, report, err := r.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, 1, report.Examples)
	assert.Equal(t, 1, report.Aliases)
	assert.Len(t, report.Skipped, 1)

	require.Len(t, target.domains, 2)
	merged := target.domains[1]
	assert.Equal(t, "3+f1", merged.Version)
	hotel, ok := merged.Intent("hotel_query")
	require.True(t, ok)
	assert.Contains(t, hotel.Examples["en"], "any rooms near karnak")

	original, _ := base.Intent("hotel_query")
	assert.NotContains(t, original.Examples["en"], "any rooms near karnak")

	pending, _ := repo.Pending(ctx)
	assert.Empty(t, pending)
}

func TestReloader_TargetFailureKeepsPending(t *testing.T) {
	repo := &memoryRepo{}
	require.NoError(t, repo.Record(context.Background(), &Correction{
		ID: "c-1", Text: "rooms in aswan", Language: "en", CorrectIntent: "hotel_query",
	}))
	target := &recordingTarget{err: errors.New("embedding model unavailable")}
	r := NewReloader(repo, loadBase(t), target, &TestLogger{t})

	_, _, err := r.Reload(context.Background())
	require.Error(t, err)

	pending, _ := repo.Pending(context.Background())
	assert.Len(t, pending, 1)
}

func TestReloader_RunStopsWithContext(t *testing.T) {
	target := &recordingTarget{}
	r := NewReloader(&memoryRepo{}, loadBase(t), target, &TestLogger{t})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Len(t, target.domains, 1)
}
