package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	apperrors "tourism-assistant/internal/common/errors"
)

type OpenAIConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimension     int
	MaxRetries    int
	MaxInputChars int
	HTTPClient    *http.Client
}

// OpenAI embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
	logger Logger
}

func NewOpenAI(cfg OpenAIConfig, log Logger) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedding model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg, logger: log}, nil
}

func (o *OpenAI) Model() string  { return o.cfg.Model }
func (o *OpenAI) Dimension() int { return o.cfg.Dimension }

// Load issues one embedding request to verify credentials and the model.
func (o *OpenAI) Load(ctx context.Context) error {
	v, err := o.Embed(ctx, "hello", "en")
	if err != nil {
		return err
	}
	o.logger.Info("OpenAI embedding model ready", map[string]interface{}{
		"model":     o.cfg.Model,
		"dimension": v.Dimension(),
	})
	return nil
}

func (o *OpenAI) Embed(ctx context.Context, text, _ string) (Vector, error) {
	norm, err := ValidateText(text, o.cfg.MaxInputChars)
	if err != nil {
		return Vector{}, err
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(norm)},
		Model: openai.EmbeddingModel(o.cfg.Model),
	}
	if o.cfg.Dimension > 0 {
		params.Dimensions = openai.Int(int64(o.cfg.Dimension))
	}

	var values []float32
	err = withRetry(ctx, o.cfg.Model, o.cfg.MaxRetries, func(ctx context.Context) error {
		resp, err := o.client.Embeddings.New(ctx, params)
		if err != nil {
			return classifyOpenAIError(o.cfg.Model, err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("openai returned no embeddings")
		}
		values = toFloat32(resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		o.logger.Warn("OpenAI embedding failed", map[string]interface{}{
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

func classifyOpenAIError(model string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest:
			return nonRetryable{apperrors.NewEncodingError(apiErr.Message)}
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return err
		default:
			return nonRetryable{apperrors.NewModelUnavailableError(model, err)}
		}
	}
	return err
}
