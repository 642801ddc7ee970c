package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	apperrors "tourism-assistant/internal/common/errors"
)

type OllamaConfig struct {
	BaseURL       string
	Model         string
	Dimension     int
	MaxRetries    int
	MaxInputChars int
	HTTPClient    *http.Client
}

// Ollama embeds through a local or remote Ollama server's /api/embed endpoint.
type Ollama struct {
	client *api.Client
	cfg    OllamaConfig
	logger Logger
}

func NewOllama(cfg OllamaConfig, log Logger) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.BaseURL, err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Ollama{client: api.NewClient(base, hc), cfg: cfg, logger: log}, nil
}

func (o *Ollama) Model() string  { return o.cfg.Model }
func (o *Ollama) Dimension() int { return o.cfg.Dimension }

// Load checks the server is reachable and the model answers with the configured dimension.
func (o *Ollama) Load(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return apperrors.NewModelUnavailableError(o.cfg.Model, err)
	}
	v, err := o.Embed(ctx, "hello", "en")
	if err != nil {
		return err
	}
	o.logger.Info("Ollama embedding model ready", map[string]interface{}{
		"model":     o.cfg.Model,
		"dimension": v.Dimension(),
	})
	return nil
}

func (o *Ollama) Embed(ctx context.Context, text, _ string) (Vector, error) {
	norm, err := ValidateText(text, o.cfg.MaxInputChars)
	if err != nil {
		return Vector{}, err
	}

	var values []float32
	err = withRetry(ctx, o.cfg.Model, o.cfg.MaxRetries, func(ctx context.Context) error {
		resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.cfg.Model, Input: norm})
		if err != nil {
			return classifyOllamaError(o.cfg.Model, err)
		}
		if len(resp.Embeddings) == 0 {
			return fmt.Errorf("ollama returned no embeddings")
		}
		values = resp.Embeddings[0]
		return nil
	})
	if err != nil {
		o.logger.Warn("Ollama embedding failed", map[string]interface{}{
			"model": o.cfg.Model,
			"error": err.Error(),
		})
		return Vector{}, err
	}

	if o.cfg.Dimension > 0 && len(values) != o.cfg.Dimension {
		return Vector{}, apperrors.NewModelMismatchError(
			fmt.Sprintf("%s/%d", o.cfg.Model, o.cfg.Dimension),
			fmt.Sprintf("%s/%d", o.cfg.Model, len(values)),
		)
	}
	return Vector{Values: values, Model: o.cfg.Model}, nil
}

func classifyOllamaError(model string, err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return nonRetryable{apperrors.NewModelUnavailableError(model, err)}
		case se.StatusCode == http.StatusBadRequest:
			return nonRetryable{apperrors.NewEncodingError(se.ErrorMessage)}
		case se.StatusCode >= 500:
			return err
		default:
			return nonRetryable{apperrors.NewModelUnavailableError(model, err)}
		}
	}
	return err
}
