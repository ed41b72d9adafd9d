package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest)
		assert.Equal(t, "VALIDATION_ERROR: Invalid input", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("Wrap", func(t *testing.T) {
		cause := errors.New("redis down")
		err := Wrap(cause, ErrorTypeServiceDown, "registry unavailable", http.StatusServiceUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "redis down")
	})

	t.Run("stream not found", func(t *testing.T) {
		err := NewStreamNotFoundError("abc")
		assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
		assert.Equal(t, "STREAM_NOT_FOUND", err.Code)
		assert.Equal(t, "abc", err.Details["stream_id"])
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad"), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("endpoint"), ErrorTypeNotFound, http.StatusNotFound},
		{"internal", NewInternalError("oops"), ErrorTypeInternal, http.StatusInternalServerError},
		{"wrapped internal", WrapInternalError(errors.New("x"), "oops"), ErrorTypeInternal, http.StatusInternalServerError},
		{"timeout", NewTimeoutError("slow"), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"service down", NewServiceDownError("redis"), ErrorTypeServiceDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
		})
	}
}

func TestGetAppErrorWrapped(t *testing.T) {
	inner := NewStreamNotFoundError("s1")
	wrapped := fmt.Errorf("lookup: %w", inner)

	got, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
}
