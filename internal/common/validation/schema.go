package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	apperrors "tourism-assistant/internal/common/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names shipped with the service.
const (
	SchemaDomain           = "domain"
	SchemaProcessUtterance = "process-utterance"
	SchemaSearchKnowledge  = "search-knowledge"
	SchemaIngestFeedback   = "ingest-feedback"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins the errors into one line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(parts, "; ")
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

func load(name string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	compiled[name] = s
	return s, nil
}

// Validate checks a decoded document (maps, slices, scalars) against a named schema.
func Validate(name string, document interface{}) (*ValidationResult, error) {
	schema, err := load(name)
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return toResult(result), nil
}

// DecodeJob validates raw job variables against a named schema and decodes them into out.
// Malformed or invalid input is reported as INVALID_INPUT.
func DecodeJob(name string, variables []byte, out interface{}) error {
	var raw interface{}
	if err := json.Unmarshal(variables, &raw); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	result, err := Validate(name, raw)
	if err != nil {
		return err
	}
	if !result.Valid {
		return apperrors.NewInvalidInputError(result.Summary())
	}
	if err := json.Unmarshal(variables, out); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("decode input: %v", err))
	}
	return nil
}

func toResult(result *gojsonschema.Result) *ValidationResult {
	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out
}
