// Package errors provides the standardized error taxonomy of the assistant and its BPMN mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// NLU / model errors
const (
	ErrCodeModelUnavailable      ErrorCode = "MODEL_UNAVAILABLE"
	ErrCodeModelTimeout          ErrorCode = "MODEL_TIMEOUT"
	ErrCodeEncodingError         ErrorCode = "ENCODING_ERROR"
	ErrCodeModelMismatch         ErrorCode = "MODEL_MISMATCH"
	ErrCodeMissingRequiredEntity ErrorCode = "MISSING_REQUIRED_ENTITY"
)

// Session / dialog errors
const (
	ErrCodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	ErrCodeSessionStoreFailed ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeTurnAbandoned      ErrorCode = "TURN_ABANDONED"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
)

// Collaborator errors
const (
	ErrCodeKnowledgeSearchFailed  ErrorCode = "KNOWLEDGE_SEARCH_FAILED"
	ErrCodeKnowledgeSearchTimeout ErrorCode = "KNOWLEDGE_SEARCH_TIMEOUT"
	ErrCodeIndexNotFound          ErrorCode = "INDEX_NOT_FOUND"
	ErrCodeFeedbackStoreFailed    ErrorCode = "FEEDBACK_STORE_FAILED"
	ErrCodeDomainInvalid          ErrorCode = "DOMAIN_INVALID"
	ErrCodeExternalService        ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout                ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another *StandardError by code, so errors.Is(err, errors.New...()) works.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a metadata entry and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewModelUnavailableError reports an embedding backend that is not ready.
func NewModelUnavailableError(model string, err error) *StandardError {
	return newError(ErrCodeModelUnavailable, "Embedding model unavailable", err, true).
		WithMetadata("model", model)
}

// NewModelTimeoutError reports an embedding call that outlived the caller deadline.
func NewModelTimeoutError(model string) *StandardError {
	return newError(ErrCodeModelTimeout, "Embedding model timeout", nil, true).
		WithMetadata("model", model)
}

// NewEncodingError reports text the model cannot encode.
func NewEncodingError(details string) *StandardError {
	e := newError(ErrCodeEncodingError, "Text cannot be encoded", nil, false)
	e.Details = details
	return e
}

// NewModelMismatchError reports vectors of different model identity or dimension.
func NewModelMismatchError(want, got string) *StandardError {
	e := newError(ErrCodeModelMismatch, "Embedding model mismatch", nil, false)
	e.Details = fmt.Sprintf("want %s, got %s", want, got)
	return e
}

// NewMissingRequiredEntityError describes a clarify outcome. It is never returned as a failure.
func NewMissingRequiredEntityError(intent string, missing []string) *StandardError {
	e := newError(ErrCodeMissingRequiredEntity, "Required entity missing", nil, false)
	e.Details = fmt.Sprintf("intent: %s, missing: %s", intent, strings.Join(missing, ","))
	return e
}

// NewSessionExpiredError reports a session read after its TTL.
func NewSessionExpiredError(sessionID string) *StandardError {
	e := newError(ErrCodeSessionExpired, "Session expired", nil, false)
	e.Details = fmt.Sprintf("sessionId: %s", sessionID)
	return e
}

// NewSessionStoreFailedError wraps a session persistence failure.
func NewSessionStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeSessionStoreFailed, "Session store "+op+" failed", err, true)
}

// NewTurnAbandonedError reports a turn whose caller went away before memory was updated.
func NewTurnAbandonedError(sessionID string, err error) *StandardError {
	return newError(ErrCodeTurnAbandoned, "Turn abandoned by caller", err, false).
		WithMetadata("sessionId", sessionID)
}

// NewInvalidInputError reports a malformed request.
func NewInvalidInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidInput, "Invalid input", nil, false)
	e.Details = details
	return e
}

// NewKnowledgeSearchFailedError wraps a knowledge backend failure.
func NewKnowledgeSearchFailedError(domain string, err error) *StandardError {
	return newError(ErrCodeKnowledgeSearchFailed, "Knowledge search failed", err, true).
		WithMetadata("domain", domain)
}

// NewKnowledgeSearchTimeoutError reports a knowledge search past its deadline.
func NewKnowledgeSearchTimeoutError(domain string) *StandardError {
	return newError(ErrCodeKnowledgeSearchTimeout, "Knowledge search timeout", nil, true).
		WithMetadata("domain", domain)
}

// NewIndexNotFoundError reports a missing knowledge index.
func NewIndexNotFoundError(index string) *StandardError {
	e := newError(ErrCodeIndexNotFound, "Knowledge index not found", nil, false)
	e.Details = fmt.Sprintf("index: %s", index)
	return e
}

// NewFeedbackStoreFailedError wraps a feedback persistence failure.
func NewFeedbackStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeFeedbackStoreFailed, "Feedback store "+op+" failed", err, true)
}

// NewDomainInvalidError reports a domain model file that failed validation.
func NewDomainInvalidError(details string) *StandardError {
	e := newError(ErrCodeDomainInvalid, "Domain model invalid", nil, false)
	e.Details = details
	return e
}

// NewExternalServiceError wraps an unexpected collaborator failure.
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service error: %s", service), err, true)
}

// NewTimeoutError wraps a generic collaborator timeout.
func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Timeout calling %s", service), err, true)
}

// ==========================
// 3. Inspection helpers
// ==========================

// CodeOf returns the code of the first StandardError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Normalize turns any error into a StandardError.
func Normalize(err error) *StandardError {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNError represents an error thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeModelUnavailable,
		ErrCodeSessionStoreFailed,
		ErrCodeKnowledgeSearchFailed,
		ErrCodeFeedbackStoreFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeModelTimeout,
		ErrCodeKnowledgeSearchTimeout,
		ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"errorCategory": GetErrorCategory(stdErr.Code),
			"timestamp":     stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "MODEL") || code == ErrCodeEncodingError:
		return "MODEL"
	case strings.HasPrefix(codeStr, "SESSION") || code == ErrCodeTurnAbandoned:
		return "SESSION"
	case strings.Contains(codeStr, "KNOWLEDGE") || code == ErrCodeIndexNotFound:
		return "KNOWLEDGE"
	case strings.HasPrefix(codeStr, "FEEDBACK"):
		return "FEEDBACK"
	case strings.Contains(codeStr, "INVALID") || code == ErrCodeMissingRequiredEntity:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
