package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hashing is a deterministic feature-hashing embedder: word unigrams and character
// trigrams are hashed into a fixed number of signed buckets and L2-normalized.
// It needs no model download and is the default for offline runs and tests.
type Hashing struct {
	dim           int
	maxInputChars int
}

func NewHashing(dimension, maxInputChars int) *Hashing {
	if dimension <= 0 {
		dimension = 256
	}
	return &Hashing{dim: dimension, maxInputChars: maxInputChars}
}

func (h *Hashing) Model() string  { return fmt.Sprintf("hashing-v1-%d", h.dim) }
func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, text, _ string) (Vector, error) {
	norm, err := ValidateText(text, h.maxInputChars)
	if err != nil {
		return Vector{}, err
	}
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}

	values := make([]float32, h.dim)
	for _, word := range words(norm) {
		h.add(values, "w:"+word, 1.0)
		padded := []rune("#" + word + "#")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(values, "c:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm2 float64
	for _, v := range values {
		norm2 += float64(v) * float64(v)
	}
	if norm2 > 0 {
		scale := float32(1 / math.Sqrt(norm2))
		for i := range values {
			values[i] *= scale
		}
	}
	return Vector{Values: values, Model: h.Model()}, nil
}

func (h *Hashing) add(values []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	values[idx] += weight
}

// words splits on anything that is not a letter, digit or apostrophe.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r) || r == '\'')
	})
}
