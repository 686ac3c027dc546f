package dto

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		status int
	}{
		{"not found maps to 404", ErrCodeNotFound, http.StatusNotFound},
		{"already exists maps to 409", ErrCodeAlreadyExists, http.StatusConflict},
		{"duplicate award maps to 409", ErrCodeDuplicateAward, http.StatusConflict},
		{"concurrency conflict maps to 409", ErrCodeConcurrencyConflict, http.StatusConflict},
		{"contention maps to 503", ErrCodeContention, http.StatusServiceUnavailable},
		{"graph corruption maps to 500", ErrCodeGraphCorrupt, http.StatusInternalServerError},
		{"validation maps to 400", ErrCodeValidation, http.StatusBadRequest},
		{"invalid state maps to 422", ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{"unauthorized maps to 401", ErrCodeUnauthorized, http.StatusUnauthorized},
		{"forbidden maps to 403", ErrCodeForbidden, http.StatusForbidden},
		{"rate limited maps to 429", ErrCodeRateLimited, http.StatusTooManyRequests},
		{"unknown code falls back to 500", "ERR_NO_SUCH_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	t.Run("maps domain codes to wire codes", func(t *testing.T) {
		assert.Equal(t, ErrCodeNotFound, NormalizeErrorCode("USER_NOT_FOUND"))
		assert.Equal(t, ErrCodeAlreadyExists, NormalizeErrorCode("EMAIL_TAKEN"))
		assert.Equal(t, ErrCodeDuplicateAward, NormalizeErrorCode("DUPLICATE_AWARD"))
		assert.Equal(t, ErrCodeContention, NormalizeErrorCode("CONTENTION_EXHAUSTED"))
		assert.Equal(t, ErrCodeGraphCorrupt, NormalizeErrorCode("GRAPH_CYCLE"))
		assert.Equal(t, ErrCodeInvalidInput, NormalizeErrorCode("INVALID_AMOUNT"))
	})

	t.Run("passes unknown codes through", func(t *testing.T) {
		assert.Equal(t, "SOMETHING_ELSE", NormalizeErrorCode("SOMETHING_ELSE"))
	})
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "User not found in directory", "req-123")
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "User not found in directory", resp.Error.Message)
	assert.Equal(t, "req-123", resp.Error.RequestID)
}
