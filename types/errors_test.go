package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("fetch: %w", NewError(KindResponseDecode, "parse", "unexpected token"))

	assert.True(t, errors.Is(err, ErrResponseDecode))
	assert.False(t, errors.Is(err, ErrProviderConnection))
	assert.Equal(t, KindResponseDecode, KindOf(err))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindProviderConnection, "openai", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrProviderConnection))
	assert.Equal(t, "openai: provider connection error: connection refused", err.Error())
	assert.Nil(t, WrapError(KindProcessing, "x", nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestSuggestionItemDelta(t *testing.T) {
	it := &SuggestionItem{Content: "a\nb\nc", StartRow: 4, EndRow: 4, OriginalStartRow: 4}
	assert.Equal(t, 1, it.ReplacedCount())
	assert.Equal(t, 2, it.Delta())

	it.Shift(3)
	assert.Equal(t, 7, it.StartRow)
	assert.Equal(t, 7, it.EndRow)
	assert.Equal(t, 7, it.OriginalStartRow)
}
