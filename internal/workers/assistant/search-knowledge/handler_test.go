// internal/workers/assistant/search-knowledge/handler_test.go
package searchknowledge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/knowledge"
	"tourism-assistant/internal/models"
)

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(msg string, fields map[string]interface{}) { l.t.Logf("DEBUG: %s %v", msg, fields) }
func (l *TestLogger) Info(msg string, fields map[string]interface{})  { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{})  { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *TestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *TestLogger) With(fields map[string]interface{}) Logger       { return l }

func createTestConfig() *Config {
	return &Config{Timeout: 2 * time.Second}
}

func setupSearcher(t *testing.T, status int, body string) *knowledge.Searcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return knowledge.NewSearcher(knowledge.Config{
		IndexPrefix: "tourism-",
		MaxResults:  5,
		Timeout:     time.Second,
		CacheTTL:    time.Minute,
	}, es, rdb, &TestLogger{t})
}

func queryAction() models.DialogAction {
	return models.DialogAction{
		Kind:       models.ActionQueryKnowledge,
		ContentKey: "hotel_query",
		Intent:     "hotel_query",
		Domain:     "hotels",
		Filters:    map[string]string{"location": "Luxor"},
		Language:   "en",
	}
}

func TestHandler_Execute_Success(t *testing.T) {
	searcher := setupSearcher(t, http.StatusOK, `{"hits":{"total":{"value":1},"hits":[
		{"_id":"h1","_score":2.5,"_source":{"name":"Nile View Hotel","location":"Luxor"}}]}}`)
	handler := NewHandler(createTestConfig(), searcher, &TestLogger{t})

	output, err := handler.Execute(context.Background(), &Input{DialogAction: queryAction()})

	require.NoError(t, err)
	assert.Equal(t, 1, output.ResultCount)
	assert.Equal(t, "hotel_query", output.ContentKey)
	assert.Equal(t, "Nile View Hotel", output.KnowledgeResults[0].Source["name"])
}

func TestHandler_Execute_IndexMissing(t *testing.T) {
	searcher := setupSearcher(t, http.StatusNotFound, `{"error":{"type":"index_not_found_exception"}}`)
	handler := NewHandler(createTestConfig(), searcher, &TestLogger{t})

	_, err := handler.Execute(context.Background(), &Input{DialogAction: queryAction()})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexNotFound))
	assert.Equal(t, 0, apperrors.GetRetryCount(apperrors.CodeOf(err)))
}

func TestHandler_Execute_RejectsOtherActions(t *testing.T) {
	handler := NewHandler(createTestConfig(), nil, &TestLogger{t})
	action := queryAction()
	action.Kind = models.ActionClarify

	_, err := handler.Execute(context.Background(), &Input{DialogAction: action})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}
