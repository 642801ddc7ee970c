package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_ChainInspection(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := fmt.Errorf("classify: %w", NewModelUnavailableError("nomic-embed-text", cause))

	assert.Equal(t, ErrCodeModelUnavailable, CodeOf(err))
	assert.True(t, HasCode(err, ErrCodeModelUnavailable))
	assert.False(t, HasCode(nil, ErrCodeModelUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, NewModelUnavailableError("other", nil), "Is matches by code")
	assert.NotErrorIs(t, err, NewModelTimeoutError("nomic-embed-text"))

	var se *StandardError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nomic-embed-text", se.Metadata["model"])
	assert.Equal(t, cause.Error(), se.Details)
	assert.True(t, se.Retryable)
}

func TestStandardError_Message(t *testing.T) {
	assert.Equal(t, "StandardError[INVALID_INPUT]: Invalid input: text is empty",
		NewInvalidInputError("text is empty").Error())
	assert.Equal(t, "StandardError[MODEL_TIMEOUT]: Embedding model timeout",
		NewModelTimeoutError("m").Error())
	assert.Equal(t, "intent: hotel_query, missing: location,date",
		NewMissingRequiredEntityError("hotel_query", []string{"location", "date"}).Details)
}

func TestNormalize(t *testing.T) {
	known := NewIndexNotFoundError("tourism-hotels")
	assert.Same(t, known, Normalize(fmt.Errorf("wrapped: %w", known)))

	unknown := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, unknown.Code)
	assert.Equal(t, "boom", unknown.Details)
	assert.False(t, unknown.Retryable)
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		retries   int
		category  string
		retryable bool
	}{
		{"store failure retries", NewFeedbackStoreFailedError("record", stderrors.New("down")), 3, "FEEDBACK", true},
		{"search timeout retries twice", NewKnowledgeSearchTimeoutError("hotels"), 2, "KNOWLEDGE", true},
		{"missing index is thrown", NewIndexNotFoundError("tourism-spa"), 0, "KNOWLEDGE", false},
		{"invalid input is thrown", NewInvalidInputError("bad"), 0, "VALIDATION", false},
		{"session store", NewSessionStoreFailedError("save", stderrors.New("x")), 3, "SESSION", true},
		{"encoding", NewEncodingError("empty"), 0, "MODEL", false},
		{"domain", NewDomainInvalidError("dup intent"), 0, "OTHER", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, string(tt.err.Code), bpmn.Code)
			assert.Equal(t, tt.retries, bpmn.Retries)
			assert.Equal(t, tt.retryable, bpmn.Retryable)
			assert.Equal(t, tt.category, bpmn.ErrorVariables["errorCategory"])

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, bpmn.Code, vars["errorCode"])
			assert.Equal(t, tt.category, vars["errorCategory"])
			assert.Contains(t, vars, "timestamp")
		})
	}
}

func TestConvertToBPMNError_NonRetryableOverridesCode(t *testing.T) {
	e := NewExternalServiceError("zeebe", nil)
	e.Retryable = false
	assert.Equal(t, 0, ConvertToBPMNError(e).Retries)
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeModelTimeout))
	assert.True(t, IsRetryableErrorCode(ErrCodeExternalService))
	assert.False(t, IsRetryableErrorCode(ErrCodeTurnAbandoned))
	assert.False(t, IsRetryableErrorCode(ErrCodeInternal))
}
