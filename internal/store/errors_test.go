package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "wrapped ErrNotFound", err: fmt.Errorf("lookup: %w", ErrNotFound), expected: true},
		{name: "ErrJobNotFound", err: ErrJobNotFound, expected: true},
		{
			name:     "store error wrapping ErrJobNotFound",
			err:      NewStoreError("job", "get", "no row", ErrJobNotFound),
			expected: true,
		},
		{name: "ErrDuplicate", err: ErrDuplicate, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	assert.True(t, IsDuplicateError(ErrDuplicate))
	assert.True(t, IsDuplicateError(fmt.Errorf("save: %w", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.False(t, IsDuplicateError(nil))
}

func TestStoreError(t *testing.T) {
	withCause := NewStoreError("job", "update", "write failed", ErrUpdateFailed)
	assert.Equal(t, "update operation on job failed: write failed: update failed", withCause.Error())
	assert.ErrorIs(t, withCause, ErrUpdateFailed)

	bare := NewStoreError("job", "delete", "job is running", nil)
	assert.Equal(t, "delete operation on job failed: job is running", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
