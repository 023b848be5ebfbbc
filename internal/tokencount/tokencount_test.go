package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestCountTextIsPositiveForNonEmptyText(t *testing.T) {
	c := newCounter(t)
	require.Positive(t, c.CountText("hello, world!", "gpt-4o-mini"))
}

func TestCountTextLongerTextHasMoreTokens(t *testing.T) {
	c := newCounter(t)
	short := c.CountText("hi", "gpt-4o-mini")
	long := c.CountText(strings.Repeat("hello world ", 50), "gpt-4o-mini")
	require.Less(t, short, long)
}

func TestCountChatIncludesPrimingAndPerMessageOverhead(t *testing.T) {
	c := newCounter(t)
	empty := c.CountChat(nil, "gpt-4o-mini")
	require.Equal(t, primingTokens, empty)

	withOne := c.CountChat([]Message{{Role: "user", Content: "hi"}}, "gpt-4o-mini")
	require.Greater(t, withOne, empty+perMessageOverhead-1)
}

func TestCountChatAccountsForName(t *testing.T) {
	c := newCounter(t)
	withoutName := c.CountChat([]Message{{Role: "user", Content: "hi"}}, "gpt-4o-mini")
	withName := c.CountChat([]Message{{Role: "user", Content: "hi", Name: "alice"}}, "gpt-4o-mini")
	require.Greater(t, withName, withoutName)
}

func TestApproximateLatinText(t *testing.T) {
	n := Approximate(strings.Repeat("a", 400))
	require.InDelta(t, 100, n, 5)
}

func TestApproximateCJKTextUsesDenserRatio(t *testing.T) {
	latin := Approximate(strings.Repeat("a", 60))
	cjk := Approximate(strings.Repeat("中", 60))
	require.Greater(t, cjk, latin, "CJK text should be estimated at more tokens per character")
}

func TestApproximateEmptyText(t *testing.T) {
	require.Zero(t, Approximate(""))
}

func TestCountDispatchesExactForOpenAIModels(t *testing.T) {
	c := newCounter(t)
	require.Equal(t, c.CountText("hello there", "gpt-4o"), c.Count("hello there", "gpt-4o"))
}

func TestCountDispatchesApproximateForNonOpenAIModels(t *testing.T) {
	c := newCounter(t)
	require.Equal(t, Approximate("hello there"), c.Count("hello there", "claude-3-5-sonnet-20241022"))
}

func TestTruncateToBudgetNoopWhenUnderBudget(t *testing.T) {
	c := newCounter(t)
	res := c.TruncateToBudget("short text", "gpt-4o-mini", 1000)
	require.Equal(t, "short text", res.Text)
	require.Zero(t, res.TokensCut)
}

func TestTruncateToBudgetCutsDownToLimit(t *testing.T) {
	c := newCounter(t)
	long := strings.Repeat("word ", 500)
	res := c.TruncateToBudget(long, "gpt-4o-mini", 10)
	require.Positive(t, res.TokensCut)
	require.LessOrEqual(t, c.CountText(res.Text, "gpt-4o-mini"), 10)
}

func TestTruncateToBudgetZeroBudgetReturnsEmpty(t *testing.T) {
	c := newCounter(t)
	res := c.TruncateToBudget("some text", "gpt-4o-mini", 0)
	require.Empty(t, res.Text)
	require.Positive(t, res.TokensCut)
}
