package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowercasesAndStripsPunctuation(t *testing.T) {
	require.Equal(t, "hello world", Normalize("  Hello, World!  "))
}

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("hello world", "gpt-4o-mini")
	b := HashKey("hello world", "gpt-4o-mini")
	require.Equal(t, a, b)
}

func TestHashKeyDiffersByModel(t *testing.T) {
	a := HashKey("hello world", "gpt-4o-mini")
	b := HashKey("hello world", "gpt-4o")
	require.NotEqual(t, a, b)
}

func TestStoreThenLookupExactHit(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.9})
	ctx := context.Background()
	c.Store(ctx, "What is Go?", "A programming language.", "gpt-4o-mini", 5, 5)

	res, ok := c.Lookup(ctx, "What is Go?", "gpt-4o-mini")
	require.True(t, ok)
	require.Equal(t, MatchExact, res.MatchType)
	require.Equal(t, "A programming language.", res.Entry.Response)
}

func TestLookupMissOnUnseenPrompt(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.9})
	_, ok := c.Lookup(context.Background(), "never stored", "gpt-4o-mini")
	require.False(t, ok)
}

func TestLookupExpiresEntriesPastTTL(t *testing.T) {
	c := New(Config{TTL: time.Millisecond, SimilarityThreshold: 0.99})
	ctx := context.Background()
	c.Store(ctx, "prompt", "response", "gpt-4o-mini", 1, 1)

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Lookup(ctx, "prompt", "gpt-4o-mini")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestLookupScopesSimilarityMatchToSameModel(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.5})
	ctx := context.Background()
	c.Store(ctx, "tell me about golang", "go is great", "gpt-4o-mini", 1, 1)

	_, ok := c.Lookup(ctx, "tell me about golang please", "gpt-4o")
	require.False(t, ok, "similarity match must not cross model boundaries")
}

func TestLookupFindsSimilarPromptAboveThreshold(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.6})
	ctx := context.Background()
	c.Store(ctx, "what is the capital of france", "paris", "gpt-4o-mini", 1, 1)

	res, ok := c.Lookup(ctx, "what is the capital of france please", "gpt-4o-mini")
	require.True(t, ok)
	require.Equal(t, MatchSimilarity, res.MatchType)
}

func TestEvictionRespectsMaxEntries(t *testing.T) {
	c := New(Config{MaxEntries: 2, SimilarityThreshold: 0.99})
	ctx := context.Background()
	c.Store(ctx, "one", "r1", "gpt-4o-mini", 1, 1)
	c.Store(ctx, "two", "r2", "gpt-4o-mini", 1, 1)
	c.Store(ctx, "three", "r3", "gpt-4o-mini", 1, 1)

	require.Equal(t, 2, c.Len())
	_, ok := c.Lookup(ctx, "one", "gpt-4o-mini")
	require.False(t, ok, "oldest entry should have been evicted")
}

func TestTouchIsCopyOnReadNotMutateInPlace(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.99})
	ctx := context.Background()
	c.Store(ctx, "prompt", "response", "gpt-4o-mini", 1, 1)

	first, _ := c.Lookup(ctx, "prompt", "gpt-4o-mini")
	second, _ := c.Lookup(ctx, "prompt", "gpt-4o-mini")

	require.Equal(t, int64(1), first.Entry.AccessCount)
	require.Equal(t, int64(2), second.Entry.AccessCount)
}

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	return nil
}

func TestPersistentLayerRehydratesMemoryOnHit(t *testing.T) {
	store := newMemStore()
	norm := Normalize("persisted prompt")
	key := HashKey(norm, "gpt-4o-mini")
	raw, ok := encodeEntry(&Entry{
		NormalizedPrompt: norm,
		OriginalPrompt:   "persisted prompt",
		Response:         "persisted response",
		ModelID:          "gpt-4o-mini",
		CreatedAt:        time.Now(),
	})
	require.True(t, ok)
	store.data[key] = raw

	c := New(Config{Store: store, SimilarityThreshold: 0.99})
	res, found := c.Lookup(context.Background(), "persisted prompt", "gpt-4o-mini")
	require.True(t, found)
	require.Equal(t, MatchPersistent, res.MatchType)
	require.Equal(t, 1, c.Len(), "persistent hit should rehydrate the in-memory layer")
}
