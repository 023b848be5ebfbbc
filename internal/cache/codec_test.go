package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	e := &Entry{
		NormalizedPrompt: "hello world",
		OriginalPrompt:   "Hello, World!",
		Response:         "hi there",
		ModelID:          "gpt-4o-mini",
		InputTokens:      5,
		OutputTokens:     3,
		CreatedAt:        now,
	}

	raw, ok := encodeEntry(e)
	require.True(t, ok)

	decoded, ok := decodeEntry(raw)
	require.True(t, ok)
	require.Equal(t, e.NormalizedPrompt, decoded.NormalizedPrompt)
	require.Equal(t, e.Response, decoded.Response)
	require.Equal(t, e.ModelID, decoded.ModelID)
	require.True(t, e.CreatedAt.Equal(decoded.CreatedAt))
	require.Equal(t, HashKey(e.NormalizedPrompt, e.ModelID), decoded.Key)
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	_, ok := decodeEntry([]byte("not json"))
	require.False(t, ok)
}
