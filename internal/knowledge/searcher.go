// Package knowledge executes query_knowledge dialog actions against the tourism content index.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/redis/go-redis/v9"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
)

type Config struct {
	IndexPrefix string
	MaxResults  int
	Timeout     time.Duration
	CacheTTL    time.Duration
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Request struct {
	Domain   string            `json:"domain"`
	Filters  map[string]string `json:"filters,omitempty"`
	Language string            `json:"language,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

type Result struct {
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// Searcher queries Elasticsearch, with an optional Redis result cache.
type Searcher struct {
	cfg    Config
	es     *elasticsearch.Client
	cache  *redis.Client
	logger Logger
}

// NewSearcher builds a searcher. cache may be nil.
func NewSearcher(cfg Config, es *elasticsearch.Client, cache *redis.Client, log Logger) *Searcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Searcher{cfg: cfg, es: es, cache: cache, logger: log}
}

// Search returns the best matching documents of the request's domain.
func (s *Searcher) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Domain) == "" {
		return nil, apperrors.NewInvalidInputError("knowledge domain is required")
	}
	if req.Limit <= 0 || req.Limit > s.cfg.MaxResults {
		req.Limit = s.cfg.MaxResults
	}

	key := CacheKey(req)
	if results, ok := s.cached(ctx, key); ok {
		metrics.KnowledgeSearches.WithLabelValues(req.Domain, "cache").Inc()
		return results, nil
	}

	results, err := s.query(ctx, req)
	if err != nil {
		metrics.KnowledgeSearches.WithLabelValues(req.Domain, "error").Inc()
		return nil, err
	}
	metrics.KnowledgeSearches.WithLabelValues(req.Domain, "elasticsearch").Inc()
	s.store(ctx, key, results)
	return results, nil
}

func (s *Searcher) index(domain string) string {
	return s.cfg.IndexPrefix + domain
}

func (s *Searcher) query(ctx context.Context, req Request) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(buildQuery(req))
	if err != nil {
		return nil, apperrors.NewKnowledgeSearchFailedError(req.Domain, err)
	}
	index := s.index(req.Domain)
	esReq := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}

	res, err := esReq.Do(ctx, s.es)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewKnowledgeSearchTimeoutError(req.Domain)
		}
		return nil, apperrors.NewKnowledgeSearchFailedError(req.Domain, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewIndexNotFoundError(index)
	}
	if res.IsError() {
		return nil, apperrors.NewKnowledgeSearchFailedError(req.Domain, fmt.Errorf("search failed: %s", res.Status()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewKnowledgeSearchFailedError(req.Domain, fmt.Errorf("decode response: %w", err))
	}

	results := make([]Result, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, Result{ID: hit.ID, Score: hit.Score, Source: hit.Source})
	}
	s.logger.Debug("Knowledge search completed", map[string]interface{}{
		"index":   index,
		"filters": len(req.Filters),
		"total":   parsed.Hits.Total.Value,
		"results": len(results),
	})
	return results, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// buildQuery matches every filter as a must clause and restricts to the language when given.
func buildQuery(req Request) map[string]interface{} {
	keys := sortedKeys(req.Filters)
	must := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{k: req.Filters[k]},
		})
	}
	boolQuery := map[string]interface{}{"must": must}
	if req.Language != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"language": req.Language}},
		}
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  req.Limit,
	}
}

// CacheKey is knowledge:<domain>|<language>|k=v,... with filters sorted by key.
func CacheKey(req Request) string {
	keys := sortedKeys(req.Filters)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strings.ToLower(req.Filters[k])
	}
	return fmt.Sprintf("knowledge:%s|%s|%s|n=%d", req.Domain, req.Language, strings.Join(parts, ","), req.Limit)
}

func (s *Searcher) cached(ctx context.Context, key string) ([]Result, bool) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Knowledge cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return nil, false
	}
	var results []Result
	if err := sonic.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (s *Searcher) store(ctx context.Context, key string, results []Result) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	data, err := sonic.Marshal(results)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL).Err(); err != nil {
		s.logger.Warn("Knowledge cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
