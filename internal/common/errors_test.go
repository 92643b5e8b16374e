package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError("http_503", "upstream unavailable")))
	assert.True(t, IsTransient(NewRateLimitError("429 from remote")))
	assert.False(t, IsTransient(NewAuthError("token rejected")))

	assert.True(t, IsAuth(NewAuthError("token rejected")))
	assert.True(t, IsNotFound(NewNotFoundError("no such issue")))
	assert.True(t, IsArchiveCorrupt(NewArchiveCorruptError("bad blob")))

	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(nil))
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fetch DEMO-1: %w", NewTransientError("timeout", "deadline exceeded"))
	assert.True(t, IsTransient(err))
	assert.Equal(t, ErrorTypeTransient, TypeOf(err))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(cause, ErrorTypeTransient, "network", "request failed")

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "request failed")
}

func TestErrorContext(t *testing.T) {
	err := NewStorageError("ledger_write", "ledger write failed").
		WithContext("issue", "DEMO-1").
		WithDetails("disk full")

	require.Equal(t, ErrorTypeStorage, TypeOf(err))
	assert.Equal(t, "DEMO-1", err.Context["issue"])
	assert.Contains(t, err.Error(), "disk full")
}
