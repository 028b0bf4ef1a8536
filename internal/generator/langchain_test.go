package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizePassthroughUnderBudget(t *testing.T) {
	// Under the budget no model call happens, so a nil model is safe.
	g := &LLMGenerator{maxSummaryInput: 100}

	messages := []ContextMessage{
		{UserName: "Alice", Content: "first point"},
		{UserName: "Alice", Content: "second point"},
	}

	summary, err := g.Summarize(context.Background(), messages, "optimist")
	require.NoError(t, err)
	require.Equal(t, "first point\nsecond point", summary)
}

func TestSummarizeBudgetBoundary(t *testing.T) {
	g := &LLMGenerator{maxSummaryInput: 10}

	exact := []ContextMessage{{Content: strings.Repeat("x", 10)}}
	summary, err := g.Summarize(context.Background(), exact, "")
	require.NoError(t, err)
	require.Len(t, summary, 10)
}
