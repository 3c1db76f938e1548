package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(KindStorageVector, "missing vec0 extension", nil)
	assert.Equal(t, "[Storage.Vector] missing vec0 extension", err.Error())
	assert.Equal(t, KindStorageVector, GetKind(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindIo, nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIo, cause)
	require.NotNil(t, err)
	assert.Same(t, cause, err.Cause)
	assert.ErrorIs(t, err, cause)
}

func TestNotFoundDetails(t *testing.T) {
	err := NotFound("lesson", "abc-123")
	assert.Equal(t, KindStorageNotFound, err.Kind)
	assert.Equal(t, "lesson", err.Details["entity"])
	assert.Equal(t, "abc-123", err.Details["id"])
	assert.True(t, IsNotFound(err))
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindStorageDatabase, "first failure", nil)
	b := New(KindStorageDatabase, "second failure", nil)
	assert.True(t, errors.Is(a, b))

	c := New(KindConfig, "bad port", nil)
	assert.False(t, errors.Is(a, c))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindStorageDatabase, "locked", nil)))
	assert.False(t, IsRetryable(New(KindConfig, "bad port", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestWithDetailChaining(t *testing.T) {
	err := New(KindWatcherWatchFailed, "inotify limit reached", nil).
		WithDetail("path", "/repo").
		WithDetail("reason", "too many watches")
	assert.Equal(t, "/repo", err.Details["path"])
	assert.Equal(t, "too many watches", err.Details["reason"])
}
