// Package router implements the complexity scorer and model router (spec.md
// §4.6): a monotone heuristic score over a prompt decides whether a cheaper
// model tier can serve the request instead of the caller's chosen model.
package router

import (
	"regexp"
	"strings"

	"github.com/amerfu/llmshield/internal/pricing"
)

// Tier names a price-ascending model tier: the cheapest tier whose
// MaxComplexity still covers the observed score wins.
type Tier struct {
	ModelID       string
	MaxComplexity float64
}

// Config mirrors spec.md §6's router config block.
type Config struct {
	Tiers               []Tier
	ComplexityThreshold float64
}

// Decision is the result of Route.
type Decision struct {
	Score          float64
	OriginalModel  string
	ChosenModel    string
	Downgraded     bool
	EstimatedSavings float64
}

var reasoningWords = regexp.MustCompile(`(?i)\b(why|how|explain|analyze|analyse|compare|prove|derive|reason|step by step|trade-?off|design|architecture|optimi[sz]e)\b`)
var enumMarkers = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s+`)
var structuredCues = regexp.MustCompile(`(?i)\b(json|yaml|xml|schema|table|code block|function signature)\b`)

// Score computes a monotone complexity estimate in roughly [0, 100] from:
//   - prompt length (longer prompts tend to need more capable models)
//   - density of reasoning-indicating keywords
//   - count of enumerated sub-tasks (bullet/numbered lines)
//   - presence of structured-output cues (asking for JSON/tables/code)
//
// Each signal contributes additively and the result is not capped, so a
// prompt that is long AND reasoning-heavy AND multi-part scores higher than
// any single signal alone — callers compare against ComplexityThreshold, not
// an absolute ceiling.
func Score(prompt string) float64 {
	words := strings.Fields(prompt)
	wordCount := float64(len(words))

	lengthScore := wordCount / 8.0 // ~1 point per 8 words
	if lengthScore > 40 {
		lengthScore = 40
	}

	reasonMatches := float64(len(reasoningWords.FindAllString(prompt, -1)))
	reasoningScore := reasonMatches * 8.0

	enumCount := float64(len(enumMarkers.FindAllString(prompt, -1)))
	enumScore := enumCount * 4.0

	structuredScore := 0.0
	if structuredCues.MatchString(prompt) {
		structuredScore = 10.0
	}

	return lengthScore + reasoningScore + enumScore + structuredScore
}

// Route picks the cheapest tier able to serve a prompt of the given
// complexity score, falling back to the caller's original model whenever the
// score meets or exceeds ComplexityThreshold, no tier is configured, or no
// tier's MaxComplexity covers the score. Tiers are assumed ascending by
// price; Route returns the first (cheapest) tier whose MaxComplexity is
// greater than or equal to score.
func Route(cfg Config, table *pricing.Table, originalModel, prompt string, expectedOutputTokens int) Decision {
	score := Score(prompt)

	d := Decision{Score: score, OriginalModel: originalModel, ChosenModel: originalModel}

	if score >= cfg.ComplexityThreshold || len(cfg.Tiers) == 0 {
		return d
	}

	var chosen *Tier
	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		if score <= t.MaxComplexity {
			chosen = t
			break
		}
	}
	if chosen == nil || chosen.ModelID == originalModel {
		return d
	}

	d.ChosenModel = chosen.ModelID
	d.Downgraded = true

	if table != nil {
		originalCost := table.Cost(originalModel, 0, expectedOutputTokens)
		newCost := table.Cost(chosen.ModelID, 0, expectedOutputTokens)
		savings := originalCost - newCost
		if savings > 0 {
			d.EstimatedSavings = savings
		}
	}

	return d
}
