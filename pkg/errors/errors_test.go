package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", NotFound("Conversation", nil), "NOT_FOUND", http.StatusNotFound},
		{"bad request", BadRequest("nope", nil), "BAD_REQUEST", http.StatusBadRequest},
		{"validation", Validation("bad input", nil), "VALIDATION_ERROR", http.StatusBadRequest},
		{"invalid transition", InvalidTransition("already resolved"), "INVALID_TRANSITION", http.StatusConflict},
		{"unauthorized", Unauthorized("no token", nil), "UNAUTHORIZED", http.StatusUnauthorized},
		{"forbidden", Forbidden("not yours", nil), "FORBIDDEN", http.StatusForbidden},
		{"storage failure", StorageFailure("firestore down", nil), "STORAGE_FAILURE", http.StatusServiceUnavailable},
		{"internal", Internal("boom", nil), "INTERNAL_ERROR", http.StatusInternalServerError},
		{"too many requests", TooManyRequests("slow down"), "TOO_MANY_REQUESTS", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, Is(tt.err, tt.code))
		})
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("Conversation", nil)
	assert.Equal(t, "Conversation not found", err.Message)
	assert.Equal(t, "NOT_FOUND: Conversation not found", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := StorageFailure("write failed", cause)

	assert.True(t, stderrors.Is(err, cause))
}

func TestIsOnWrappedError(t *testing.T) {
	err := fmt.Errorf("saving message: %w", InvalidTransition("already resolved"))

	assert.True(t, Is(err, "INVALID_TRANSITION"))
	assert.False(t, Is(err, "NOT_FOUND"))
}

func TestIsOnPlainError(t *testing.T) {
	assert.False(t, Is(stderrors.New("plain"), "NOT_FOUND"))
	assert.False(t, Is(nil, "NOT_FOUND"))
}
