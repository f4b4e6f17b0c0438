package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence(cause, "save job").WithContext("job_id", "j-1").WithContext("attempt", 1)

	assert.Equal(t, "[Persistence] save job | context: attempt=1, job_id=j-1 | cause: disk full", err.Error())
	assert.Equal(t, "save job: disk full", err.Describe())
	assert.ErrorIs(t, err, cause)
}

func TestIsTypeThroughWrapping(t *testing.T) {
	base := NotFound("job %s not found", "abc")
	wrapped := fmt.Errorf("get job: %w", base)

	assert.True(t, IsType(wrapped, ErrNotFound))
	assert.False(t, IsType(wrapped, ErrValidation))
	assert.Equal(t, ErrNotFound, TypeOf(wrapped))
	assert.Equal(t, ErrUnknown, TypeOf(errors.New("plain")))
	assert.Equal(t, "job abc not found", Message(wrapped))
}

func TestErrorTypeCodes(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		name string
		code string
	}{
		{ErrValidation, "Validation", "validation_error"},
		{ErrNotFound, "NotFound", "not_found"},
		{ErrInvalidState, "InvalidState", "invalid_state"},
		{ErrProvider, "Provider", "provider_error"},
		{ErrPersistence, "Persistence", "persistence_error"},
		{ErrUnknown, "Unknown", "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.typ.String())
		assert.Equal(t, tt.code, tt.typ.Code())
	}
}
