// Package pricing holds the static per-model pricing table (spec.md §4.2).
// Unknown models are treated as zero-cost everywhere in this package so the
// pipeline never aborts on an unrecognized model id — mirroring
// fuchsia74-one-api's relay/billing/ratio tables, which likewise degrade to
// a default rather than erroring on an unlisted model/size pair.
package pricing

import "sync"

// Tier is a coarse price class used by the router (spec.md §4.6) to order
// tiers ascending by price.
type Tier int

const (
	TierEconomy Tier = iota
	TierStandard
	TierPremium
)

// Entry is one model's pricing row.
type Entry struct {
	InputPerMillion  float64
	OutputPerMillion float64
	// CachedInputDiscount, if > 0, is the fraction (0,1] by which a
	// provider-cached prefix reduces input cost — consumed by the prefix
	// optimizer (spec.md §4.7).
	CachedInputDiscount float64
	ContextWindow       int
	Tier                Tier
}

// Table is a static, read-mostly mapping from model id to Entry. The zero
// value is usable (empty table); use New or NewDefault to populate one.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Set installs or overwrites the pricing entry for modelID.
func (t *Table) Set(modelID string, e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[modelID] = e
}

// Lookup returns the entry for modelID and whether it was found. Callers
// computing cost should treat "not found" as zero-cost rather than erroring.
func (t *Table) Lookup(modelID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[modelID]
	return e, ok
}

// Cost computes the USD cost of inputTokens/outputTokens on modelID.
// Unknown models cost 0, never error, per spec.md §4.2.
func (t *Table) Cost(modelID string, inputTokens, outputTokens int) float64 {
	e, ok := t.Lookup(modelID)
	if !ok {
		return 0
	}
	in := float64(inputTokens) / 1_000_000 * e.InputPerMillion
	out := float64(outputTokens) / 1_000_000 * e.OutputPerMillion
	return in + out
}

// CachedInputCost computes input cost for inputTokens where cachedTokens of
// them hit the provider's prompt cache at CachedInputDiscount off. Used by
// the prefix optimizer to estimate savings.
func (t *Table) CachedInputCost(modelID string, inputTokens, cachedTokens int) float64 {
	e, ok := t.Lookup(modelID)
	if !ok {
		return 0
	}
	if cachedTokens > inputTokens {
		cachedTokens = inputTokens
	}
	uncached := inputTokens - cachedTokens
	cachedRate := e.InputPerMillion * (1 - e.CachedInputDiscount)
	return float64(uncached)/1_000_000*e.InputPerMillion + float64(cachedTokens)/1_000_000*cachedRate
}

// NewDefault returns a Table pre-populated with a representative set of
// current-generation model prices. Real deployments will typically override
// via Set or load their own table; this is the shield's out-of-the-box
// default, analogous to one-api's built-in ratio tables.
func NewDefault() *Table {
	t := New()
	t.Set("gpt-4o", Entry{InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedInputDiscount: 0.5, ContextWindow: 128_000, Tier: TierPremium})
	t.Set("gpt-4o-mini", Entry{InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputDiscount: 0.5, ContextWindow: 128_000, Tier: TierEconomy})
	t.Set("gpt-4-turbo", Entry{InputPerMillion: 10.00, OutputPerMillion: 30.00, ContextWindow: 128_000, Tier: TierPremium})
	t.Set("gpt-3.5-turbo", Entry{InputPerMillion: 0.50, OutputPerMillion: 1.50, ContextWindow: 16_385, Tier: TierEconomy})
	t.Set("claude-3-5-sonnet-20241022", Entry{InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputDiscount: 0.9, ContextWindow: 200_000, Tier: TierPremium})
	t.Set("claude-3-5-haiku-20241022", Entry{InputPerMillion: 0.80, OutputPerMillion: 4.00, CachedInputDiscount: 0.9, ContextWindow: 200_000, Tier: TierStandard})
	t.Set("claude-3-haiku-20240307", Entry{InputPerMillion: 0.25, OutputPerMillion: 1.25, ContextWindow: 200_000, Tier: TierEconomy})
	t.Set("gemini-1.5-pro", Entry{InputPerMillion: 1.25, OutputPerMillion: 5.00, ContextWindow: 2_000_000, Tier: TierStandard})
	t.Set("gemini-1.5-flash", Entry{InputPerMillion: 0.075, OutputPerMillion: 0.30, ContextWindow: 1_000_000, Tier: TierEconomy})
	return t
}
