// Package cache implements the shield's two-layer response cache (spec.md
// §4.4): an exact hash-indexed layer plus a bigram/holographic similarity
// layer over a bounded LRU, with an optional Redis-backed persistent layer.
// The persistence shape (Get/Set over an opaque byte store) is
// grounded on the teacher's internal/services/cache.RedisCache; the
// copy-on-read update-without-mutation discipline is new, required by
// spec.md §4.4's "copy-on-read to keep concurrent lookups consistent".
package cache

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Entry is the cache entry shape from spec.md §3.
type Entry struct {
	Key              string
	NormalizedPrompt string
	OriginalPrompt   string
	Response         string
	ModelID          string
	InputTokens      int
	OutputTokens     int
	CreatedAt        time.Time
	AccessCount      int64
	LastAccessAt     time.Time
}

// MatchType distinguishes how a lookup hit an entry, for the cache:hit event.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchPersistent MatchType = "persistent"
	MatchSimilarity MatchType = "similarity"
)

// LookupResult is returned by Lookup on a hit.
type LookupResult struct {
	Entry      Entry
	MatchType  MatchType
	Similarity float64 // 1.0 for exact/persistent matches
}

// Store is the optional persistent key-value substrate (spec.md §6:
// "opaque key-value store... pluggable and out of scope"). Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config mirrors spec.md §6's cache config block.
type Config struct {
	MaxEntries          int
	TTL                 time.Duration
	SimilarityThreshold float64
	Encoding            Encoder
	Store               Store // nil disables the persistent layer
}

// Encoder computes a similarity score in [0,1] between two normalized
// prompts. BigramDice (the default) and Holographic both satisfy this.
type Encoder interface {
	Similarity(a, b string) float64
}

// Cache is the process-wide singleton response cache (spec.md §3
// "Ownership"). One instance is shared by all concurrent requests.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*Entry // key -> entry; always replaced wholesale (copy-on-read)
	order   []string          // LRU order, oldest first, by key
}

// New constructs a Cache. A zero-value Encoder/Store is replaced with
// BigramDice{} and a no-op absence respectively.
func New(cfg Config) *Cache {
	if cfg.Encoding == nil {
		cfg.Encoding = BigramDice{}
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
}

var normalizeNonWord = regexp.MustCompile(`[^\w\s]`)
var normalizeSpace = regexp.MustCompile(`\s+`)

// Normalize implements spec.md §4.4's normalization: lowercase, strip
// non-word/non-space, collapse whitespace, trim.
func Normalize(prompt string) string {
	s := strings.ToLower(prompt)
	s = normalizeNonWord.ReplaceAllString(s, "")
	s = normalizeSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// HashKey computes the djb2-derived cache key over (normalized text | model
// id); including the model id prevents cross-model contamination per
// spec.md §4.4. fnv-1a stands in for djb2 here — both are cheap
// non-cryptographic string hashes with the same purpose, and Go's stdlib
// ships fnv but not djb2.
func HashKey(normalizedText, modelID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalizedText))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(modelID))
	sum := h.Sum64()
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[sum&0xf]
		sum >>= 4
	}
	return string(buf)
}

// Lookup tries, in order: memory exact hit, persistent exact hit (rehydrating
// memory), then similarity match scoped to the same model. Expired entries
// are reaped on encounter and never returned.
func (c *Cache) Lookup(ctx context.Context, prompt, modelID string) (LookupResult, bool) {
	norm := Normalize(prompt)
	key := HashKey(norm, modelID)
	now := time.Now()

	if e, ok := c.memoryGet(key, now); ok {
		if updated, ok := c.touch(key, now); ok {
			e = &updated
		}
		return LookupResult{Entry: *e, MatchType: MatchExact, Similarity: 1.0}, true
	}

	if c.cfg.Store != nil {
		if raw, found, err := c.cfg.Store.Get(ctx, key); err == nil && found {
			if e, ok := decodeEntry(raw); ok && !expired(e.CreatedAt, c.cfg.TTL, now) {
				c.rehydrate(key, e)
				if updated, ok := c.touch(key, now); ok {
					e = &updated
				}
				return LookupResult{Entry: *e, MatchType: MatchPersistent, Similarity: 1.0}, true
			}
		}
	}

	if best, score, ok := c.similarityBest(norm, modelID, now); ok {
		if updated, ok := c.touch(best.Key, now); ok {
			best = &updated
		}
		return LookupResult{Entry: *best, MatchType: MatchSimilarity, Similarity: score}, true
	}

	return LookupResult{}, false
}

func (c *Cache) memoryGet(key string, now time.Time) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if expired(e.CreatedAt, c.cfg.TTL, now) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	cp := *e
	return &cp, true
}

func (c *Cache) similarityBest(norm, modelID string, now time.Time) (*Entry, float64, bool) {
	c.mu.Lock()
	candidates := make([]*Entry, 0, len(c.entries))
	for k, e := range c.entries {
		if e.ModelID != modelID {
			continue
		}
		if expired(e.CreatedAt, c.cfg.TTL, now) {
			delete(c.entries, k)
			c.removeFromOrder(k)
			continue
		}
		cp := *e
		candidates = append(candidates, &cp)
	}
	c.mu.Unlock()

	var best *Entry
	var bestScore float64
	for _, e := range candidates {
		score := c.cfg.Encoding.Similarity(norm, e.NormalizedPrompt)
		if score >= c.cfg.SimilarityThreshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, bestScore, true
}

// touch performs the copy-on-read access-count/last-access update: a new
// Entry value replaces the map slot atomically under the lock so a
// concurrent lookup of the same key can never observe a torn intermediate.
// It returns a copy of the updated entry, and false if key is not present.
func (c *Cache) touch(key string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	updated := *e
	updated.AccessCount++
	updated.LastAccessAt = now
	c.entries[key] = &updated
	c.bumpOrder(key)
	return updated, true
}

func (c *Cache) rehydrate(key string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *e
	c.entries[key] = &cp
	c.bumpOrder(key)
	c.evictIfNeededLocked()
}

// Store upserts a cache entry for prompt/model, evicting the
// least-recently-accessed entry if the cap is exceeded. The persistent
// write, if configured, is fire-and-forget: its error is swallowed per
// spec.md §7's "best-effort subsystem failure" policy.
func (c *Cache) Store(ctx context.Context, prompt, response, modelID string, inputTokens, outputTokens int) {
	norm := Normalize(prompt)
	key := HashKey(norm, modelID)
	now := time.Now()

	e := &Entry{
		Key:              key,
		NormalizedPrompt: norm,
		OriginalPrompt:   prompt,
		Response:         response,
		ModelID:          modelID,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		CreatedAt:        now,
		AccessCount:      0,
		LastAccessAt:     now,
	}

	c.mu.Lock()
	c.entries[key] = e
	c.bumpOrder(key)
	c.evictIfNeededLocked()
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if raw, ok := encodeEntry(e); ok {
			_ = c.cfg.Store.Set(ctx, key, raw, c.cfg.TTL)
		}
	}
}

// bumpOrder must be called with c.mu held.
func (c *Cache) bumpOrder(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// removeFromOrder must be called with c.mu held.
func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// evictIfNeededLocked must be called with c.mu held.
func (c *Cache) evictIfNeededLocked() {
	for len(c.entries) > c.cfg.MaxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func expired(createdAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(createdAt) >= ttl
}

// Len returns the number of entries currently held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
