package tokenizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTokenizer struct {
	*HF
	calls int
}

func (c *countingTokenizer) Encode(text string, addSpecial bool) ([]int, error) {
	c.calls++
	return c.HF.Encode(text, addSpecial)
}

func TestCachedEncoderMemoises(t *testing.T) {
	inner := &countingTokenizer{HF: newTinyTokenizer(t, `{"add_bos_token": true, "bos_token": "<|im_start|>"}`)}
	enc := NewCachedEncoder(inner, time.Minute, 16)
	defer enc.Close()

	first, err := enc.Encode("hi hi!", true)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 2, 4, 7}, first)

	// Callers may scribble on the returned slice.
	first[0] = -1

	second, err := enc.Encode("hi hi!", true)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 2, 4, 7}, second)
	assert.Equal(t, 1, inner.calls)

	third, err := enc.Encode("hi hi!", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 7}, third)
	assert.Equal(t, 2, inner.calls)

	stats := enc.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 2, stats.Size)
}

func TestCachedEncoderKeyCollision(t *testing.T) {
	inner := &countingTokenizer{HF: newTinyTokenizer(t, "")}
	enc := NewCachedEncoder(inner, time.Minute, 0)
	defer enc.Close()
	enc.key = func(string, bool) uint64 { return 7 }

	first, err := enc.Encode("hi", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, first)

	// Same key, different text: must re-encode, not reuse "hi".
	second, err := enc.Encode("hi hi", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, second)
	assert.Equal(t, 2, inner.calls)

	// The colliding entry replaced the first one.
	third, err := enc.Encode("hi hi", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, third)
	assert.Equal(t, 2, inner.calls)

	stats := enc.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCachedEncoderDoesNotCacheErrors(t *testing.T) {
	inner := &countingTokenizer{HF: newTinyTokenizer(t, "")}
	enc := NewCachedEncoder(inner, time.Minute, 0)
	defer enc.Close()

	_, err := enc.Encode("x", false)
	require.Error(t, err)
	_, err = enc.Encode("x", false)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, enc.Stats().Size)
}

func TestCachedEncoderDelegatesDecode(t *testing.T) {
	enc := NewCachedEncoder(newTinyTokenizer(t, ""), time.Minute, 0)
	defer enc.Close()

	text, err := enc.Decode([]int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, "hi hi", text)

	_, ok := enc.Vocabulary(true)["<|im_start|>"]
	assert.True(t, ok)
}
