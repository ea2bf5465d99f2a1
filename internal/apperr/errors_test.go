package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := New(ErrValidation, "password must be at least 6 characters")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, ErrValidation, KindOf(err))
	assert.Equal(t, "password must be at least 6 characters", Message(err))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("register: %w", Newf(ErrConflict, "email %s already registered", "a@x.com"))

	assert.Equal(t, ErrConflict, KindOf(err))
	assert.Equal(t, "email a@x.com already registered", Message(err))
}

func TestStorageMessageIsGeneric(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:9000: connection refused")
	err := Storage("put object", cause)

	assert.Equal(t, ErrStorage, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", Message(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnknownErrorsAreStorage(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, ErrStorage, KindOf(err))
	assert.Equal(t, "internal server error", Message(err))
}

func TestBareSentinelMessage(t *testing.T) {
	assert.Equal(t, "expired", Message(ErrExpired))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("op", nil))

	conflict := New(ErrConflict, "email already registered")
	assert.Same(t, conflict, Wrap("register", conflict))

	err := Wrap("register", errors.New("s3 timeout"))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "register")
}
