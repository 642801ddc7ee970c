// Package embedding defines the text embedding capability used by the NLU components
// and the concrete backends that provide it.
package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	apperrors "tourism-assistant/internal/common/errors"
)

// Vector is an embedding tagged with the identity of the model that produced it.
type Vector struct {
	Values []float32 `json:"values"`
	Model  string    `json:"model"`
}

// Dimension returns the vector length.
func (v Vector) Dimension() int {
	return len(v.Values)
}

// Provider turns text into a fixed-dimension vector.
type Provider interface {
	// Embed returns the embedding of text. Errors carry MODEL_UNAVAILABLE, MODEL_TIMEOUT or ENCODING_ERROR.
	Embed(ctx context.Context, text, languageHint string) (Vector, error)
	// Model identifies the model; vectors from different models are never compared.
	Model() string
	Dimension() int
}

// Logger is the subset of the structured logger used here.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Normalize lowercases, trims and collapses whitespace. It is the canonical form used for cache keys.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ValidateText returns the normalized text or an ENCODING_ERROR.
func ValidateText(text string, maxChars int) (string, error) {
	if !utf8.ValidString(text) {
		return "", apperrors.NewEncodingError("text is not valid UTF-8")
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return "", apperrors.NewEncodingError(fmt.Sprintf("text exceeds %d characters", maxChars))
	}
	norm := Normalize(text)
	hasContent := false
	for _, r := range norm {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return "", apperrors.NewEncodingError("text has no encodable content")
	}
	return norm, nil
}

// Cosine returns the cosine similarity of two equal-length vectors, 0 when either has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Similarity compares two vectors after checking model identity and dimension.
func Similarity(a, b Vector) (float64, error) {
	if a.Model != b.Model || len(a.Values) != len(b.Values) {
		return 0, apperrors.NewModelMismatchError(
			fmt.Sprintf("%s/%d", a.Model, len(a.Values)),
			fmt.Sprintf("%s/%d", b.Model, len(b.Values)),
		)
	}
	return Cosine(a.Values, b.Values), nil
}

// EncodeVector packs float32 values little-endian.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// errNonRetryable marks backend failures that retrying cannot fix.
var errNonRetryable = errors.New("non-retryable")

type nonRetryable struct{ err error }

func (n nonRetryable) Error() string        { return n.err.Error() }
func (n nonRetryable) Unwrap() error        { return n.err }
func (n nonRetryable) Is(target error) bool { return target == errNonRetryable }

// withRetry runs call with exponential backoff (100ms, 200ms, ...) until it succeeds,
// returns a non-retryable error, or ctx ends. Context expiry maps to MODEL_TIMEOUT.
func withRetry(ctx context.Context, model string, maxRetries int, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return apperrors.NewModelTimeoutError(model)
			}
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
			return apperrors.NewModelTimeoutError(model)
		}
		if errors.Is(lastErr, errNonRetryable) {
			var se *apperrors.StandardError
			if errors.As(lastErr, &se) {
				return se
			}
			return apperrors.NewModelUnavailableError(model, lastErr)
		}
	}
	return apperrors.NewModelUnavailableError(model, lastErr)
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, f := range in {
		out[i] = float32(f)
	}
	return out
}
