package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	t.Run("nil cause stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("cause stays reachable", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(cause, CodeUnavailable, "catalog down")
		assert.ErrorIs(t, err, cause)
		assert.True(t, Is(err, CodeUnavailable))
	})
}

func TestIsAndHasCode(t *testing.T) {
	inner := New(CodeNotFound, "missing")
	outer := Wrap(inner, CodeInternal, "load failed")

	assert.True(t, Is(outer, CodeInternal))
	assert.False(t, Is(outer, CodeNotFound))
	assert.True(t, HasCode(outer, CodeNotFound))
	assert.True(t, HasCode(fmt.Errorf("ctx: %w", outer), CodeInternal))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}
