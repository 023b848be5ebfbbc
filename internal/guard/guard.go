// Package guard implements the request guard (spec.md §4.3): debounce,
// per-minute rate limiting, a trailing-hour cost ceiling, and in-flight
// deduplication. The sliding-window rate limiter (a log of admission
// timestamps over the trailing minute) is grounded on
// internal/services/ratelimit.InMemoryLimiter from the teacher; the
// supersede-and-return-null debounce combinator is new, required by
// spec.md's "bounded-latency supersedes-and-returns-null contract".
package guard

import (
	"strings"
	"sync"
	"time"
)

// CheckResult is returned by Check.
type CheckResult struct {
	Allowed       bool
	Reason        string
	EstimatedCost float64
}

// Config mirrors spec.md §6's guard config block.
type Config struct {
	DebounceMs           int
	MaxRequestsPerMinute int
	MaxCostPerHour       float64
	MinInputLength       int
	DeduplicateInFlight  bool
}

// CostEstimator estimates the dollar cost of admitting a prompt to a model,
// used only for the trailing-hour ceiling check; the guard has no pricing
// knowledge of its own.
type CostEstimator func(prompt, modelID string, expectedOutputTokens int) float64

// Guard is a single process-wide instance shared by concurrent requests,
// per spec.md §5.
type Guard struct {
	cfg       Config
	estimate  CostEstimator

	mu          sync.Mutex
	lastSeen    map[string]time.Time // normalized prompt -> last-seen time, for debounce
	minuteUsage map[string][]time.Time // normalized prompt ignored; bucketed under a single key
	hourSpend   []spendSample
	inFlight    map[string]struct{}

	debounce *Debouncer
}

type spendSample struct {
	at   time.Time
	cost float64
}

// New constructs a Guard. estimate may be nil, in which case the
// trailing-hour cost ceiling is never tripped (cost is always treated as 0).
func New(cfg Config, estimate CostEstimator) *Guard {
	if estimate == nil {
		estimate = func(string, string, int) float64 { return 0 }
	}
	return &Guard{
		cfg:         cfg,
		estimate:    estimate,
		lastSeen:    make(map[string]time.Time),
		minuteUsage: make(map[string][]time.Time),
		inFlight:    make(map[string]struct{}),
		debounce:    NewDebouncer(time.Duration(cfg.DebounceMs) * time.Millisecond),
	}
}

func normalize(prompt string) string {
	return strings.TrimSpace(strings.ToLower(prompt))
}

// Check evaluates all admission rules in spec.md §4.3's order: minInputLength,
// debounce, per-minute rate, per-hour cost ceiling, then in-flight dedup.
func (g *Guard) Check(prompt, modelID string, expectedOutputTokens int) CheckResult {
	return g.CheckAt(time.Now(), prompt, modelID, expectedOutputTokens)
}

// CheckAt is Check with an injectable clock, for deterministic tests (per
// spec.md §9 "Tests should pin a clock source").
func (g *Guard) CheckAt(now time.Time, prompt, modelID string, expectedOutputTokens int) CheckResult {
	cost := g.estimate(prompt, modelID, expectedOutputTokens)

	if len(prompt) < g.cfg.MinInputLength {
		return CheckResult{Allowed: false, Reason: "Prompt shorter than minimum input length", EstimatedCost: cost}
	}

	key := normalize(prompt)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.DebounceMs > 0 {
		if last, ok := g.lastSeen[key]; ok && now.Sub(last) < time.Duration(g.cfg.DebounceMs)*time.Millisecond {
			return CheckResult{Allowed: false, Reason: "Debounced: identical prompt seen within debounce window", EstimatedCost: cost}
		}
	}

	if g.cfg.MaxRequestsPerMinute > 0 {
		windowStart := now.Add(-time.Minute)
		kept := g.minuteUsage["*"][:0]
		for _, t := range g.minuteUsage["*"] {
			if t.After(windowStart) {
				kept = append(kept, t)
			}
		}
		if len(kept) >= g.cfg.MaxRequestsPerMinute {
			g.minuteUsage["*"] = kept
			return CheckResult{Allowed: false, Reason: "GUARD_RATE_LIMIT: requests per minute exceeded", EstimatedCost: cost}
		}
		g.minuteUsage["*"] = kept
	}

	if g.cfg.MaxCostPerHour > 0 {
		hourStart := now.Add(-time.Hour)
		kept := g.hourSpend[:0]
		var projected float64
		for _, s := range g.hourSpend {
			if s.at.After(hourStart) {
				kept = append(kept, s)
				projected += s.cost
			}
		}
		g.hourSpend = kept
		if projected+cost > g.cfg.MaxCostPerHour {
			return CheckResult{Allowed: false, Reason: "Projected trailing-hour spend exceeds maxCostPerHour", EstimatedCost: cost}
		}
	}

	if g.cfg.DeduplicateInFlight {
		if _, ok := g.inFlight[key]; ok {
			return CheckResult{Allowed: false, Reason: "Duplicate request already in-flight", EstimatedCost: cost}
		}
	}

	g.lastSeen[key] = now
	g.minuteUsage["*"] = append(g.minuteUsage["*"], now)
	g.hourSpend = append(g.hourSpend, spendSample{at: now, cost: cost})

	return CheckResult{Allowed: true, EstimatedCost: cost}
}

// StartRequest marks prompt as in-flight for dedup purposes.
func (g *Guard) StartRequest(prompt string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight[normalize(prompt)] = struct{}{}
}

// CompleteRequest clears prompt's in-flight marker. inputTokens/outputTokens
// and modelID are accepted to match spec.md's signature but are not needed
// by this guard's bookkeeping (cost was already reserved at Check time).
func (g *Guard) CompleteRequest(prompt string, inputTokens, outputTokens int, modelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, normalize(prompt))
}

// Stats is a snapshot for diagnostics/CLI use.
type Stats struct {
	InFlightCount   int
	TrailingHourCost float64
	RequestsLastMinute int
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var cost float64
	for _, s := range g.hourSpend {
		cost += s.cost
	}
	return Stats{
		InFlightCount:      len(g.inFlight),
		TrailingHourCost:   cost,
		RequestsLastMinute: len(g.minuteUsage["*"]),
	}
}

// Debounce wraps fn with the guard's configured debounce window, delegating
// to g.debounce. See Debouncer for the supersede semantics.
func (g *Guard) Debounce(fn func() (any, error)) func() (any, error) {
	return g.debounce.Wrap(fn)
}
