// cmd/assistant/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tourism-assistant/internal/common/camunda"
	"tourism-assistant/internal/common/config"
	"tourism-assistant/internal/common/database"
	"tourism-assistant/internal/common/logger"
	"tourism-assistant/internal/common/observability"
	"tourism-assistant/internal/feedback"
	"tourism-assistant/internal/knowledge"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/pipeline"
	"tourism-assistant/internal/ops"

	ifb "tourism-assistant/internal/workers/assistant/ingest-feedback"
	pu "tourism-assistant/internal/workers/assistant/process-utterance"
	sk "tourism-assistant/internal/workers/assistant/search-knowledge"
)

var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting tourism assistant", zap.String("version", Version), zap.String("environment", cfg.App.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	})
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	// --- Redis (session store, embedding persistence, knowledge cache) ---
	var rdb *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			if rdb, err = database.NewRedis(cfg.Database.Redis); err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- NLU ---
	base, err := domain.Load(cfg.NLU.DomainFile)
	if err != nil {
		zapLog.Fatal("domain model load failed", zap.Error(err), zap.String("path", cfg.NLU.DomainFile))
	}

	provider, err := buildProvider(cfg.Embedding, log)
	if err != nil {
		zapLog.Fatal("embedding provider init failed", zap.Error(err))
	}
	cache, err := buildCache(ctx, cfg.Embedding, provider, rdb, log)
	if err != nil {
		zapLog.Fatal("embedding cache init failed", zap.Error(err))
	}
	defer cache.Close()

	manager := buildMemory(cfg.Session, rdb, log)
	p, err := pipeline.New(ctx, pipelineConfig(cfg), base, buildDetector(cfg.NLU), cache, manager, log,
		pipeline.WithTracer(obs.Tracer()),
		pipeline.WithRecorder(obs),
	)
	if err != nil {
		zapLog.Fatal("pipeline init failed", zap.Error(err))
	}
	zapLog.Info("NLU pipeline ready",
		zap.String("domainVersion", base.Version),
		zap.String("model", cache.Model()),
		zap.Int("intents", len(base.Intents)),
	)

	// --- Knowledge search ---
	var searcher *knowledge.Searcher
	var es *database.ElasticsearchClient
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		err = retryWithBackoff(func() error {
			var err error
			if es, err = database.NewElasticsearch(cfg.Database.Elasticsearch); err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		searcher = knowledge.NewSearcher(knowledge.Config{
			IndexPrefix: cfg.Knowledge.IndexPrefix,
			MaxResults:  cfg.Knowledge.MaxResults,
			Timeout:     config.GetDuration(cfg.Knowledge.Timeout),
			CacheTTL:    config.GetDuration(cfg.Knowledge.CacheTTL),
		}, es.Client, redisClient(rdb), log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Feedback ---
	var ingestor *feedback.Ingestor
	var reloader *feedback.Reloader
	var pg *database.PostgresClient
	if cfg.Feedback.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			if pg, err = database.NewPostgres(cfg.Database.Postgres); err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		store := feedback.NewStore(pg.DB, cfg.Feedback.Table)
		if err := store.Migrate(ctx); err != nil {
			zapLog.Fatal("feedback migration failed", zap.Error(err))
		}
		ingestor = feedback.NewIngestor(store, cache, log)
		reloader = feedback.NewReloader(store, base, p, log)
		go reloader.Run(ctx, config.GetDuration(cfg.Feedback.ReloadInterval))
		zapLog.Info("PostgreSQL connected successfully, feedback enabled")
	}

	// --- Workers ---
	var zeebe *camunda.Client
	var workers []*camunda.CamundaWorker
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: cfg.Camunda.Plaintext,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil {
			zapLog.Fatal("zeebe client failed", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		if wcfg := config.GetWorkerConfig(cfg, pu.TaskType); wcfg.Enabled {
			h := pu.NewHandler(&pu.Config{Timeout: config.GetDuration(wcfg.Timeout)}, p, &processUtteranceLoggerAdapter{log})
			workers = append(workers, startWorker(zeebe, pu.TaskType, wcfg, h, zapLog))
		}
		if wcfg := config.GetWorkerConfig(cfg, sk.TaskType); wcfg.Enabled && searcher != nil {
			h := sk.NewHandler(&sk.Config{Timeout: config.GetDuration(wcfg.Timeout)}, searcher, &searchKnowledgeLoggerAdapter{log})
			workers = append(workers, startWorker(zeebe, sk.TaskType, wcfg, h, zapLog))
		}
		if wcfg := config.GetWorkerConfig(cfg, ifb.TaskType); wcfg.Enabled && ingestor != nil {
			h := ifb.NewHandler(&ifb.Config{Timeout: config.GetDuration(wcfg.Timeout)}, ingestor, &ingestFeedbackLoggerAdapter{log})
			workers = append(workers, startWorker(zeebe, ifb.TaskType, wcfg, h, zapLog))
		}
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	}

	// --- Operations server ---
	opts := []ops.Option{
		ops.WithCheck("embedding", func(ctx context.Context) error {
			_, err := cache.Embed(ctx, "ready", cfg.NLU.FallbackLanguage)
			return err
		}),
		ops.WithStatus(func() map[string]interface{} {
			d := p.Domain()
			return map[string]interface{}{
				"version":       Version,
				"domainVersion": d.Version,
				"model":         cache.Model(),
				"stats":         d.Stats(),
				"cache":         cache.Stats(),
			}
		}),
	}
	if rdb != nil {
		opts = append(opts, ops.WithCheck("redis", rdb.Ping))
	}
	if es != nil {
		opts = append(opts, ops.WithCheck("elasticsearch", es.Ping))
	}
	if pg != nil {
		opts = append(opts, ops.WithCheck("postgres", pg.Ping))
	}
	if zeebe != nil {
		opts = append(opts, ops.WithCheck("zeebe", zeebe.HealthCheck))
	}
	if reloader != nil {
		opts = append(opts, ops.WithReloader(reloader))
	}
	server := ops.New(ops.Config{
		Address:        cfg.Server.Address,
		Version:        Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log, opts...)
	server.Start()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping operations server", zap.Error(err))
	}
	obs.Shutdown(shutdownCtx)
	zapLog.Info("Tourism assistant stopped gracefully")
}

func startWorker(client *camunda.Client, taskType string, wcfg config.WorkerConfig, handler camunda.JobHandler, log *zap.Logger) *camunda.CamundaWorker {
	return camunda.NewWorker(client.GetClient(), taskType, camunda.WorkerOptions{
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
	}, handler, log)
}
