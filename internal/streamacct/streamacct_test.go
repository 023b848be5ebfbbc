package streamacct

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amerfu/llmshield/internal/tokencount"
)

func newCounter(t *testing.T) *tokencount.Counter {
	t.Helper()
	c, err := tokencount.New()
	require.NoError(t, err)
	return c
}

func TestFinishSettlesAccumulatedText(t *testing.T) {
	a := New("gpt-4o-mini", newCounter(t))
	a.SetInputTokens(10)
	a.AddChunk("hello ")
	a.AddChunk("world")

	usage := a.Finish()
	require.False(t, usage.Aborted)
	require.Equal(t, 10, usage.InputTokens)
	require.Positive(t, usage.OutputTokens)
	require.Equal(t, "hello world", a.GetText())
}

func TestAbortSettlesPartialText(t *testing.T) {
	a := New("gpt-4o-mini", newCounter(t))
	a.AddChunk("partial")

	usage := a.Abort()
	require.True(t, usage.Aborted)
	require.Positive(t, usage.OutputTokens)
}

func TestFinishIsIdempotent(t *testing.T) {
	a := New("gpt-4o-mini", newCounter(t))
	a.AddChunk("hello")

	first := a.Finish()
	a.AddChunk("ignored after settlement")
	second := a.Finish()

	require.Equal(t, first, second)
	require.Equal(t, "hello", a.GetText(), "chunks added after settlement must not be absorbed")
}

func TestAbortAfterFinishIsNoop(t *testing.T) {
	a := New("gpt-4o-mini", newCounter(t))
	a.AddChunk("hello")

	finished := a.Finish()
	aborted := a.Abort()

	require.Equal(t, finished, aborted, "second settlement call must return the first result unchanged")
	require.False(t, aborted.Aborted, "the winning settlement was Finish, so Aborted must stay false")
}

func TestConcurrentFinishAndAbortSettleExactlyOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := New("gpt-4o-mini", newCounter(t))
		a.AddChunk("race condition text")

		var wg sync.WaitGroup
		results := make(chan Usage, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results <- a.Finish()
		}()
		go func() {
			defer wg.Done()
			results <- a.Abort()
		}()
		wg.Wait()
		close(results)

		var usages []Usage
		for u := range results {
			usages = append(usages, u)
		}
		require.Len(t, usages, 2)
		require.Equal(t, usages[0], usages[1], "both callers must observe the same winning settlement")
	}
}

func TestGetUsageBeforeSettlement(t *testing.T) {
	a := New("gpt-4o-mini", newCounter(t))
	_, ok := a.GetUsage()
	require.False(t, ok)
}
