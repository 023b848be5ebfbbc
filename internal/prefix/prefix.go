// Package prefix implements the prefix optimizer (spec.md §4.7): it finds
// the longest stable leading run of messages across a conversation history
// and attaches a provider-specific cache marker, estimating the savings a
// provider's prompt-caching discount would yield on that prefix.
package prefix

import (
	"github.com/amerfu/llmshield/internal/pricing"
	"github.com/amerfu/llmshield/internal/tokencount"
)

// Provider names a prompt-caching marker dialect.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderAuto      Provider = "auto"
)

// Config mirrors spec.md §6's prefix config block.
type Config struct {
	Provider Provider
}

// Result is returned by Optimize.
type Result struct {
	Applied        bool
	StablePrefixLen int // number of leading messages considered stable
	Marker         string
	EstimatedSavings float64
}

// resolveProvider maps ProviderAuto onto a concrete marker dialect based on
// the model id, the same way a client SDK would dispatch per-provider.
func resolveProvider(cfg Config, modelID string) Provider {
	if cfg.Provider != ProviderAuto && cfg.Provider != "" {
		return cfg.Provider
	}
	switch {
	case len(modelID) >= 6 && modelID[:6] == "claude":
		return ProviderAnthropic
	case len(modelID) >= 6 && modelID[:6] == "gemini":
		return ProviderGoogle
	default:
		return ProviderOpenAI
	}
}

func marker(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "cache_control:ephemeral"
	case ProviderGoogle:
		return "cached_content"
	default:
		return "prompt_cache_key"
	}
}

// StablePrefix returns the count of leading messages identical (role and
// content) between previous and current, i.e. the longest run a
// provider-side prompt cache would still recognize.
func StablePrefix(previous, current []tokencount.Message) int {
	n := 0
	for n < len(previous) && n < len(current) {
		if previous[n].Role != current[n].Role || previous[n].Content != current[n].Content {
			break
		}
		n++
	}
	return n
}

// Optimize computes the stable-prefix marker and estimated savings for a
// conversation turn. previous is the prior turn's message list (nil/empty on
// the first turn of a conversation, in which case no prefix is stable yet).
// Savings are only estimated when the resolved model's pricing entry carries
// a CachedInputDiscount > 0; otherwise Applied is false.
func Optimize(cfg Config, table *pricing.Table, counter *tokencount.Counter, modelID string, previous, current []tokencount.Message) Result {
	stableLen := StablePrefix(previous, current)
	if stableLen == 0 {
		return Result{}
	}

	entry, ok := table.Lookup(modelID)
	if !ok || entry.CachedInputDiscount <= 0 {
		return Result{StablePrefixLen: stableLen}
	}

	prefixTokens := counter.CountChat(current[:stableLen], modelID)
	fullCost := table.Cost(modelID, prefixTokens, 0)
	cachedCost := table.CachedInputCost(modelID, prefixTokens, prefixTokens)
	savings := fullCost - cachedCost
	if savings < 0 {
		savings = 0
	}

	return Result{
		Applied:          true,
		StablePrefixLen:  stableLen,
		Marker:           marker(resolveProvider(cfg, modelID)),
		EstimatedSavings: savings,
	}
}
