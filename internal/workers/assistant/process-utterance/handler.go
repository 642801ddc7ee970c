// internal/workers/assistant/process-utterance/handler.go
package processutterance

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/metrics"
	"tourism-assistant/internal/common/validation"
	"tourism-assistant/internal/models"
)

const (
	TaskType = "process-utterance"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Processor runs one conversational turn.
type Processor interface {
	ProcessUtterance(ctx context.Context, text, sessionID, languageHint string) (*models.TurnOutcome, error)
}

type Handler struct {
	config    *Config
	processor Processor
	errors    *apperrors.JobErrorHandler
	logger    Logger
}

func NewHandler(config *Config, processor Processor, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:    config,
		processor: processor,
		errors:    apperrors.NewJobErrorHandler(l),
		logger:    l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := validation.DecodeJob(validation.SchemaProcessUtterance, []byte(job.Variables), &input); err != nil {
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
	outcome, err := h.processor.ProcessUtterance(ctx, input.Text, input.SessionID, input.Language)
	if err != nil {
		return nil, err
	}

	if outcome.Result.Degraded != "" {
		h.logger.Warn("turn answered with fallback", map[string]interface{}{
			"sessionId": input.SessionID,
			"reason":    outcome.Result.Degraded,
		})
	}
	h.logger.Info("utterance processed", map[string]interface{}{
		"sessionId": input.SessionID,
		"intent":    outcome.Result.Classification.Label,
		"action":    string(outcome.Action.Kind),
	})

	return &Output{
		NLUResult:    outcome.Result,
		DialogAction: outcome.Action,
		ActionKind:   string(outcome.Action.Kind),
		Language:     outcome.Result.Language,
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
