// cmd/assistant/wiring.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tourism-assistant/internal/common/config"
	"tourism-assistant/internal/common/database"
	apphttp "tourism-assistant/internal/common/http"
	"tourism-assistant/internal/common/logger"
	"tourism-assistant/internal/dialog/memory"
	"tourism-assistant/internal/dialog/orchestrator"
	"tourism-assistant/internal/nlu/embedding"
	"tourism-assistant/internal/nlu/entity"
	"tourism-assistant/internal/nlu/intent"
	"tourism-assistant/internal/nlu/language"
	"tourism-assistant/internal/nlu/pipeline"
	"tourism-assistant/internal/nlu/simcache"

	ifb "tourism-assistant/internal/workers/assistant/ingest-feedback"
	pu "tourism-assistant/internal/workers/assistant/process-utterance"
	sk "tourism-assistant/internal/workers/assistant/search-knowledge"
)

// retryWithBackoff retries operation with exponential backoff.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

var userAgent = "tourism-assistant/" + Version

// buildProvider returns the configured embedding backend. Remote backends load on
// first use unless Eager is set.
func buildProvider(cfg config.EmbeddingConfig, log logger.Logger) (embedding.Provider, error) {
	timeout := config.GetDuration(cfg.Timeout)

	switch cfg.Provider {
	case "", "hashing":
		return embedding.NewHashing(cfg.Dimension, cfg.MaxInputChars), nil

	case "ollama":
		o, err := embedding.NewOllama(embedding.OllamaConfig{
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			Dimension:     cfg.Dimension,
			MaxRetries:    cfg.MaxRetries,
			MaxInputChars: cfg.MaxInputChars,
			HTTPClient:    apphttp.NewClient(apphttp.Config{Name: cfg.Provider, Timeout: timeout, UserAgent: userAgent}),
		}, log)
		if err != nil {
			return nil, err
		}
		return lazy(cfg, timeout, func(ctx context.Context) (embedding.Provider, error) {
			if err := o.Load(ctx); err != nil {
				return nil, err
			}
			return o, nil
		})

	case "openai":
		o, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Dimension:     cfg.Dimension,
			MaxRetries:    cfg.MaxRetries,
			MaxInputChars: cfg.MaxInputChars,
			HTTPClient:    apphttp.NewClient(apphttp.Config{Name: cfg.Provider, Timeout: timeout, UserAgent: userAgent}),
		}, log)
		if err != nil {
			return nil, err
		}
		return lazy(cfg, timeout, func(ctx context.Context) (embedding.Provider, error) {
			if err := o.Load(ctx); err != nil {
				return nil, err
			}
			return o, nil
		})
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func lazy(cfg config.EmbeddingConfig, timeout time.Duration, load embedding.Loader) (embedding.Provider, error) {
	l := embedding.NewLazy(cfg.Model, cfg.Dimension, timeout, load)
	if cfg.Eager {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := l.Load(ctx); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func buildCache(ctx context.Context, cfg config.EmbeddingConfig, provider embedding.Provider, rdb *database.RedisClient, log logger.Logger) (*simcache.Cache, error) {
	var persister simcache.Persister
	switch cfg.Cache.Persistence {
	case "sqlite":
		db, err := database.OpenSQLite(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		if persister, err = simcache.NewSQLitePersister(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("embedding cache persistence is redis but no redis address is configured")
		}
		persister = simcache.NewRedisPersister(rdb.Client, cfg.Cache.KeyPrefix)
	}

	cache, err := simcache.New(provider, simcache.Config{
		Capacity:       cfg.Cache.Capacity,
		ComputeTimeout: config.GetDuration(cfg.Cache.ComputeTimeout),
	}, persister, log)
	if err != nil {
		return nil, err
	}
	if persister != nil {
		if n, err := cache.Warm(ctx); err != nil {
			log.Warn("Embedding cache warm-up failed", map[string]interface{}{"error": err.Error()})
		} else {
			log.Info("Embedding cache warmed", map[string]interface{}{"entries": n})
		}
	}
	return cache, nil
}

func buildMemory(cfg config.SessionConfig, rdb *database.RedisClient, log logger.Logger) *memory.Manager {
	var store memory.Store = memory.NewInMemoryStore()
	if cfg.Store == "redis" && rdb != nil {
		store = memory.NewRedisStore(rdb.Client, cfg.KeyPrefix)
	} else if cfg.Store == "redis" {
		log.Warn("Session store is redis but no redis address is configured, using in-memory store", nil)
	}
	return memory.NewManager(store, memory.Config{
		TTL:                config.GetDuration(cfg.TTL),
		MaxTurns:           cfg.MaxTurns,
		MaxTopics:          cfg.MaxTopics,
		MinMergeConfidence: cfg.MinMergeConfidence,
		EntityMaxTurns:     cfg.EntityMaxTurns,
		EntityMaxAge:       config.GetDuration(cfg.EntityMaxAge),
	}, log)
}

func buildDetector(cfg config.NLUConfig) *language.Detector {
	return language.New(language.Config{
		Supported: cfg.SupportedLanguages,
		Fallback:  cfg.FallbackLanguage,
		MinChars:  cfg.MinDetectChars,
		MinScore:  cfg.MinDetectScore,
	})
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	e := cfg.NLU.Entity
	return pipeline.Config{
		EmbedTimeout: config.GetDuration(cfg.Embedding.Cache.ComputeTimeout),
		LockTimeout:  config.GetDuration(cfg.Session.LockTimeout),
		Intent: intent.Config{
			MinConfidence:    cfg.NLU.MinConfidence,
			TieEpsilon:       cfg.NLU.TieEpsilon,
			ContextBonus:     cfg.NLU.ContextBonus,
			FallbackLanguage: cfg.NLU.FallbackLanguage,
		},
		Entity: entity.Config{
			PatternConfidence:     e.PatternConfidence,
			FuzzyFloor:            e.FuzzyFloor,
			FuzzyMaxConfidence:    e.FuzzyMaxConfidence,
			SemanticFloor:         e.SemanticFloor,
			SemanticMaxConfidence: e.SemanticMaxConfidence,
			MaxSpanTokens:         e.MaxSpanTokens,
			CorefLookback:         e.CorefLookback,
		},
		Dialog: orchestrator.Config{
			GreetingThreshold:  cfg.Dialog.GreetingThreshold,
			FarewellThreshold:  cfg.Dialog.FarewellThreshold,
			FallbackContentKey: cfg.Dialog.FallbackContentKey,
		},
	}
}

func redisClient(rdb *database.RedisClient) *redis.Client {
	if rdb == nil {
		return nil
	}
	return rdb.Client
}

// Logger adapters narrow With to each worker package's Logger.

type processUtteranceLoggerAdapter struct {
	logger.Logger
}

func (a *processUtteranceLoggerAdapter) With(fields map[string]interface{}) pu.Logger {
	return &processUtteranceLoggerAdapter{a.Logger.With(fields)}
}

type searchKnowledgeLoggerAdapter struct {
	logger.Logger
}

func (a *searchKnowledgeLoggerAdapter) With(fields map[string]interface{}) sk.Logger {
	return &searchKnowledgeLoggerAdapter{a.Logger.With(fields)}
}

type ingestFeedbackLoggerAdapter struct {
	logger.Logger
}

func (a *ingestFeedbackLoggerAdapter) With(fields map[string]interface{}) ifb.Logger {
	return &ingestFeedbackLoggerAdapter{a.Logger.With(fields)}
}
