package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAppliesDefaultFeature(t *testing.T) {
	l := New("chat")
	l.Record(Entry{Model: "gpt-4o-mini", Cost: 1})
	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "chat", entries[0].Feature)
}

func TestRecordPreservesExplicitFeature(t *testing.T) {
	l := New("chat")
	l.Record(Entry{Model: "gpt-4o-mini", Cost: 1, Feature: "summarize"})
	entries := l.Entries()
	require.Equal(t, "summarize", entries[0].Feature)
}

func TestSummarizeAggregatesAcrossEntries(t *testing.T) {
	l := New("chat")
	l.Record(Entry{Cost: 1, Savings: Savings{Router: 0.5}, InputTokens: 10, OutputTokens: 5})
	l.Record(Entry{Cost: 2, Savings: Savings{CacheHit: 2}, InputTokens: 20, OutputTokens: 10, CacheHit: true})

	s := l.Summarize()
	require.Equal(t, 2, s.Count)
	require.Equal(t, 3.0, s.TotalCost)
	require.Equal(t, 2.5, s.TotalSavings)
	require.Equal(t, 30, s.TotalInputTokens)
	require.Equal(t, 1, s.CacheHitCount)
	require.Equal(t, 0.5, s.CacheHitRate)
}

func TestSummarizeSinceFiltersByTimestamp(t *testing.T) {
	l := New("chat")
	base := time.Now()
	l.Record(Entry{Cost: 1, Timestamp: base})
	l.Record(Entry{Cost: 2, Timestamp: base.Add(time.Hour)})

	s := l.SummarizeSince(base.Add(30 * time.Minute))
	require.Equal(t, 1, s.Count)
	require.Equal(t, 2.0, s.TotalCost)
}

func TestEntriesReturnsSnapshotNotLiveSlice(t *testing.T) {
	l := New("chat")
	l.Record(Entry{Cost: 1})
	snap := l.Entries()
	l.Record(Entry{Cost: 2})
	require.Len(t, snap, 1, "snapshot must not observe later appends")
	require.Equal(t, 2, l.Len())
}

func TestSavingsTotalSumsAllFields(t *testing.T) {
	s := Savings{Context: 1, Router: 2, Prefix: 3, CacheHit: 4}
	require.Equal(t, 10.0, s.Total())
}
