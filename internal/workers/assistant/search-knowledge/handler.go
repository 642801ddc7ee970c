// internal/workers/assistant/search-knowledge/handler.go
package searchknowledge

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/common/validation"
	"tourism-assistant/internal/knowledge"
	"tourism-assistant/internal/models"
)

const (
	TaskType = "search-knowledge"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Searcher interface {
	Search(ctx context.Context, req knowledge.Request) ([]knowledge.Result, error)
}

type Handler struct {
	config   *Config
	searcher Searcher
	errors   *apperrors.JobErrorHandler
	logger   Logger
}

func NewHandler(config *Config, searcher Searcher, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:   config,
		searcher: searcher,
		errors:   apperrors.NewJobErrorHandler(l),
		logger:   l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := validation.DecodeJob(validation.SchemaSearchKnowledge, []byte(job.Variables), &input); err != nil {
		h.failJob(client, job, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	action := input.DialogAction
	if action.Kind != models.ActionQueryKnowledge {
		return nil, apperrors.NewInvalidInputError("dialogAction.kind must be query_knowledge")
	}

	results, err := h.searcher.Search(ctx, knowledge.Request{
		Domain:   action.Domain,
		Filters:  action.Filters,
		Language: action.Language,
		Limit:    input.Limit,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("knowledge retrieved", map[string]interface{}{
		"domain":  action.Domain,
		"filters": len(action.Filters),
		"results": len(results),
	})
	return &Output{
		KnowledgeResults: results,
		ResultCount:      len(results),
		ContentKey:       action.ContentKey,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errors.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
