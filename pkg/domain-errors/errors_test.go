package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("boom")

	t.Run("direct code", func(t *testing.T) {
		err := New(CodeValidation, "bad input")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("nested code survives fmt wrapping", func(t *testing.T) {
		inner := Wrap(base, CodeUnavailable, "store down")
		outer := fmt.Errorf("commit: %w", Wrap(inner, CodeInternal, "failed"))
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeUnavailable))
		assert.ErrorIs(t, outer, base)
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, Is(base, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(base))
	})
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad input", New(CodeValidation, "bad input").Error())
	assert.Equal(t, "load: boom", Wrap(errors.New("boom"), CodeInternal, "load").Error())
}
