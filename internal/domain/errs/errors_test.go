package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("preprocess: %w", Data(UnknownTarget, "target %q not found in dataset %q", "nonexistent", "btc"))

	assert.True(t, errors.Is(err, KindData))
	assert.True(t, errors.Is(err, UnknownTarget))
	assert.False(t, errors.Is(err, KindConfig))
	assert.False(t, errors.Is(err, InsufficientRows))
	assert.True(t, errors.Is(err, &Error{Kind: KindData}))
	assert.Equal(t, KindData, KindOf(err))
	assert.Equal(t, UnknownTarget, ReasonOf(err))
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestWrapAndRetryable(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindInternal, "", cause, "save artifact %s", "m1").AsRetryable()

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(cause))
	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, Reason(""), ReasonOf(cause))
}
