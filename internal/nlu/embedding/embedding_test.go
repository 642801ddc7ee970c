package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourism-assistant/internal/common/errors"
)

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(msg string, fields map[string]interface{}) { l.t.Logf("DEBUG: %s %v", msg, fields) }
func (l *TestLogger) Info(msg string, fields map[string]interface{})  { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{})  { l.t.Logf("WARN: %s %v", msg, fields) }

func TestHashing_DeterministicAndNormalized(t *testing.T) {
	h := NewHashing(128, 0)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Hotels in Cairo", "en")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "  hotels   in cairo ", "en")
	require.NoError(t, err)

	assert.Equal(t, "hashing-v1-128", a.Model)
	assert.Len(t, a.Values, 128)
	assert.Equal(t, a.Values, b.Values)
	assert.InDelta(t, 1.0, Cosine(a.Values, a.Values), 1e-6)
}

func TestHashing_SimilarTextScoresHigher(t *testing.T) {
	h := NewHashing(256, 0)
	ctx := context.Background()

	q, _ := h.Embed(ctx, "find me a hotel in luxor", "en")
	near, _ := h.Embed(ctx, "hotel in luxor", "en")
	far, _ := h.Embed(ctx, "what is the weather tomorrow", "en")

	assert.Greater(t, Cosine(q.Values, near.Values), Cosine(q.Values, far.Values))
}

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		max     int
		wantErr bool
	}{
		{name: "plain", text: "Hello there"},
		{name: "arabic", text: "مرحبا"},
		{name: "empty", text: "   ", wantErr: true},
		{name: "punctuation only", text: "?!...", wantErr: true},
		{name: "invalid utf8", text: string([]byte{0xff, 0xfe}), wantErr: true},
		{name: "too long", text: "abcdef", max: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateText(tt.text, tt.max)
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEncodingError))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSimilarity_ModelMismatch(t *testing.T) {
	_, err := Similarity(
		Vector{Values: []float32{1, 0}, Model: "a"},
		Vector{Values: []float32{1, 0}, Model: "b"},
	)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelMismatch))

	s, err := Similarity(
		Vector{Values: []float32{1, 0}, Model: "a"},
		Vector{Values: []float32{0, 1}, Model: "a"},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)
}

func TestCosine_ZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, err := DecodeVector(EncodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func newOllamaServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_Embed(t *testing.T) {
	var mu sync.Mutex
	var lastInput interface{}
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		mu.Lock()
		lastInput = req["input"]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`))
	})

	o, err := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3}, &TestLogger{t})
	require.NoError(t, err)

	require.NoError(t, o.Load(context.Background()))
	v, err := o.Embed(context.Background(), "Hotels in Cairo", "en")
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", v.Model)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v.Values)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hotels in cairo", lastInput)
}

func TestOllama_ModelNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	})

	o, err := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "missing", MaxRetries: 3}, &TestLogger{t})
	require.NoError(t, err)

	_, err = o.Embed(context.Background(), "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOllama_ServerErrorRetriesThenFails(t *testing.T) {
	var calls int32
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})

	o, err := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "m", MaxRetries: 1}, &TestLogger{t})
	require.NoError(t, err)

	_, err = o.Embed(context.Background(), "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOllama_TimeoutMapsToModelTimeout(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	o, err := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "m"}, &TestLogger{t})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = o.Embed(ctx, "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelTimeout))
}

func TestOllama_DimensionMismatch(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","embeddings":[[0.1,0.2]]}`))
	})

	o, err := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "m", Dimension: 3}, &TestLogger{t})
	require.NoError(t, err)

	_, err = o.Embed(context.Background(), "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelMismatch))
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",` +
			`"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],` +
			`"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{
		BaseURL:   srv.URL + "/v1/",
		APIKey:    "test-key",
		Model:     "text-embedding-3-small",
		Dimension: 2,
	}, &TestLogger{t})
	require.NoError(t, err)

	v, err := o.Embed(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v.Values)
	assert.Equal(t, "text-embedding-3-small", v.Model)
}

func TestOpenAI_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "x", Model: "m", MaxRetries: 2}, &TestLogger{t})
	require.NoError(t, err)

	_, err = o.Embed(context.Background(), "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelUnavailable))
}

func TestLazy_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads int32
	lazy := NewLazy("hashing-v1-64", 64, time.Second, func(ctx context.Context) (Provider, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(20 * time.Millisecond)
		return NewHashing(64, 0), nil
	})
	assert.False(t, lazy.Ready())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lazy.Embed(context.Background(), "hello", "en")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.True(t, lazy.Ready())
	assert.Equal(t, "hashing-v1-64", lazy.Model())
}

func TestLazy_FailedLoadIsRetried(t *testing.T) {
	var loads int32
	lazy := NewLazy("m", 8, time.Second, func(ctx context.Context) (Provider, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			return nil, assert.AnError
		}
		return NewHashing(8, 0), nil
	})

	_, err := lazy.Embed(context.Background(), "hello", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModelUnavailable))

	_, err = lazy.Embed(context.Background(), "hello", "en")
	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}
