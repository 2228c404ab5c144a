package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("swipe: %w", ErrQuotaExceeded)

	assert.True(t, errors.Is(err, Conflict))
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.False(t, errors.Is(err, ErrDuplicateSwipe))
	assert.False(t, errors.Is(err, Validation))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindDependency, "booking_unavailable", cause, "create hold")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, Dependency))
	assert.Equal(t, "create hold: dial tcp: timeout", err.Error())
	assert.Equal(t, KindDependency, KindOf(err))
	assert.Equal(t, "booking_unavailable", CodeOf(err))
}

func TestCodeOfFallsBack(t *testing.T) {
	assert.Equal(t, "not_found", CodeOf(New(KindNotFound, "", "no match")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}
