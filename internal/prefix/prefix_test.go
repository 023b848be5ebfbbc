package prefix

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amerfu/llmshield/internal/pricing"
	"github.com/amerfu/llmshield/internal/tokencount"
)

func TestStablePrefixDetectsCommonLeadingRun(t *testing.T) {
	prev := []tokencount.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	cur := []tokencount.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "what's next"},
	}
	require.Equal(t, 3, StablePrefix(prev, cur))
}

func TestStablePrefixZeroOnFirstTurn(t *testing.T) {
	cur := []tokencount.Message{{Role: "user", Content: "hi"}}
	require.Zero(t, StablePrefix(nil, cur))
}

func TestStablePrefixBreaksOnDivergence(t *testing.T) {
	prev := []tokencount.Message{{Role: "system", Content: "a"}, {Role: "user", Content: "b"}}
	cur := []tokencount.Message{{Role: "system", Content: "a"}, {Role: "user", Content: "different"}}
	require.Equal(t, 1, StablePrefix(prev, cur))
}

func TestOptimizeNoSavingsWithoutDiscount(t *testing.T) {
	table := pricing.New()
	table.Set("plain-model", pricing.Entry{InputPerMillion: 1, OutputPerMillion: 2})
	counter, err := tokencount.New()
	require.NoError(t, err)

	prev := []tokencount.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}
	cur := []tokencount.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}, {Role: "user", Content: "more"}}

	res := Optimize(Config{Provider: ProviderOpenAI}, table, counter, "plain-model", prev, cur)
	require.False(t, res.Applied)
	require.Equal(t, 2, res.StablePrefixLen)
}

func TestOptimizeAppliesDiscountWhenAvailable(t *testing.T) {
	table := pricing.NewDefault()
	counter, err := tokencount.New()
	require.NoError(t, err)

	prev := []tokencount.Message{{Role: "system", Content: "you are helpful"}, {Role: "user", Content: "hi there"}}
	cur := []tokencount.Message{{Role: "system", Content: "you are helpful"}, {Role: "user", Content: "hi there"}, {Role: "user", Content: "follow up"}}

	res := Optimize(Config{Provider: ProviderAuto}, table, counter, "gpt-4o", prev, cur)
	require.True(t, res.Applied)
	require.Equal(t, "prompt_cache_key", res.Marker)
	require.GreaterOrEqual(t, res.EstimatedSavings, 0.0)
}

func TestResolveProviderAutoDispatchesByModelName(t *testing.T) {
	require.Equal(t, ProviderAnthropic, resolveProvider(Config{Provider: ProviderAuto}, "claude-3-5-sonnet-20241022"))
	require.Equal(t, ProviderGoogle, resolveProvider(Config{Provider: ProviderAuto}, "gemini-1.5-pro"))
	require.Equal(t, ProviderOpenAI, resolveProvider(Config{Provider: ProviderAuto}, "gpt-4o"))
}
