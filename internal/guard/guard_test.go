package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckRejectsPromptShorterThanMinLength(t *testing.T) {
	g := New(Config{MinInputLength: 10}, nil)
	res := g.Check("short", "gpt-4o-mini", 100)
	require.False(t, res.Allowed)
}

func TestCheckAllowsFirstRequest(t *testing.T) {
	g := New(Config{}, nil)
	res := g.Check("hello there", "gpt-4o-mini", 100)
	require.True(t, res.Allowed)
}

func TestCheckDebouncesIdenticalPromptWithinWindow(t *testing.T) {
	g := New(Config{DebounceMs: 1000}, nil)
	now := time.Now()
	first := g.CheckAt(now, "same prompt", "gpt-4o-mini", 100)
	require.True(t, first.Allowed)

	second := g.CheckAt(now.Add(500*time.Millisecond), "same prompt", "gpt-4o-mini", 100)
	require.False(t, second.Allowed)
}

func TestCheckAllowsAfterDebounceWindowElapses(t *testing.T) {
	g := New(Config{DebounceMs: 1000}, nil)
	now := time.Now()
	g.CheckAt(now, "same prompt", "gpt-4o-mini", 100)

	third := g.CheckAt(now.Add(1500*time.Millisecond), "same prompt", "gpt-4o-mini", 100)
	require.True(t, third.Allowed)
}

func TestCheckEnforcesPerMinuteRateLimit(t *testing.T) {
	g := New(Config{MaxRequestsPerMinute: 2}, nil)
	now := time.Now()
	require.True(t, g.CheckAt(now, "a", "gpt-4o-mini", 0).Allowed)
	require.True(t, g.CheckAt(now.Add(time.Second), "b", "gpt-4o-mini", 0).Allowed)
	third := g.CheckAt(now.Add(2*time.Second), "c", "gpt-4o-mini", 0)
	require.False(t, third.Allowed)
}

func TestCheckPerMinuteRateLimitRollsOffAfterWindow(t *testing.T) {
	g := New(Config{MaxRequestsPerMinute: 1}, nil)
	now := time.Now()
	require.True(t, g.CheckAt(now, "a", "gpt-4o-mini", 0).Allowed)
	require.False(t, g.CheckAt(now.Add(30*time.Second), "b", "gpt-4o-mini", 0).Allowed)
	require.True(t, g.CheckAt(now.Add(61*time.Second), "c", "gpt-4o-mini", 0).Allowed)
}

func TestCheckEnforcesHourlyCostCeiling(t *testing.T) {
	estimator := func(prompt, model string, outTokens int) float64 { return 6 }
	g := New(Config{MaxCostPerHour: 10}, estimator)
	now := time.Now()
	require.True(t, g.CheckAt(now, "a", "gpt-4o-mini", 0).Allowed)
	// second request would push trailing-hour spend to 12 > 10
	second := g.CheckAt(now.Add(time.Second), "b", "gpt-4o-mini", 0)
	require.False(t, second.Allowed)
}

func TestCheckDeduplicatesInFlightRequests(t *testing.T) {
	g := New(Config{DeduplicateInFlight: true}, nil)
	now := time.Now()
	first := g.CheckAt(now, "dup prompt", "gpt-4o-mini", 0)
	require.True(t, first.Allowed)
	g.StartRequest("dup prompt")

	second := g.CheckAt(now.Add(time.Millisecond), "dup prompt", "gpt-4o-mini", 0)
	require.False(t, second.Allowed)

	g.CompleteRequest("dup prompt", 10, 10, "gpt-4o-mini")
	third := g.CheckAt(now.Add(2*time.Millisecond), "dup prompt", "gpt-4o-mini", 0)
	require.True(t, third.Allowed)
}

func TestStatsReflectsInFlightAndSpend(t *testing.T) {
	estimator := func(prompt, model string, outTokens int) float64 { return 1 }
	g := New(Config{}, estimator)
	g.Check("a", "gpt-4o-mini", 0)
	g.StartRequest("b")

	stats := g.Stats()
	require.Equal(t, 1, stats.InFlightCount)
	require.Equal(t, 1.0, stats.TrailingHourCost)
}
