package generator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeResultStrictJSON(t *testing.T) {
	res := DecodeResult(`{"target":"Alice","content":"I disagree."}`, "fallback")
	require.Equal(t, "Alice", res.Target)
	require.Equal(t, "I disagree.", res.Content)
	require.False(t, res.Fallback)
}

func TestDecodeResultIgnoresSurroundingProse(t *testing.T) {
	raw := "Sure, here is the reply:\n```json\n{\"target\":\"Bob\",\"content\":\"Fine.\"}\n```"
	res := DecodeResult(raw, "fallback")
	require.Equal(t, "Bob", res.Target)
	require.Equal(t, "Fine.", res.Content)
	require.False(t, res.Fallback)
}

func TestDecodeResultRepairsSloppyJSON(t *testing.T) {
	// Trailing comma and single quotes are what models actually emit.
	res := DecodeResult(`{'target': 'Alice', 'content': 'Noted.',}`, "fallback")
	require.Equal(t, "Alice", res.Target)
	require.Equal(t, "Noted.", res.Content)
	require.False(t, res.Fallback)
}

func TestDecodeResultFallsBackToRawText(t *testing.T) {
	res := DecodeResult("  just plain prose, no structure  ", "Alice")
	require.Equal(t, "Alice", res.Target)
	require.Equal(t, "just plain prose, no structure", res.Content)
	require.True(t, res.Fallback)
}

func TestDecodeResultEmptyContentFallsBack(t *testing.T) {
	res := DecodeResult(`{"target":"Alice","content":""}`, "Bob")
	require.Equal(t, "Bob", res.Target)
	require.True(t, res.Fallback)
}
