// Package breaker implements the cost circuit breaker (spec.md §4.8): a
// windowed spend ledger per session/hour/day/month that trips when spend
// crosses configured limits, either warning or blocking further requests.
// The windowing technique — a ring of timestamped samples pruned on read —
// is grounded on the teacher's pkg/circuitbreaker-adjacent
// services/circuitbreaker.AdaptiveBreaker latency window, retargeted here
// from latency samples to cost samples.
package breaker

import (
	"sync"
	"time"
)

// Action selects what happens once a limit is crossed.
type Action string

const (
	ActionWarn Action = "warn"
	ActionStop Action = "stop"
)

// Limits mirrors spec.md §6's breaker config block. Zero means "no limit"
// for that window.
type Limits struct {
	PerSession float64
	PerHour    float64
	PerDay     float64
	PerMonth   float64
}

// Config mirrors spec.md §6's breaker config block.
type Config struct {
	Limits Limits
	Action Action
}

type sample struct {
	at   time.Time
	cost float64
}

// Status is returned by GetStatus.
type Status struct {
	SessionSpend float64
	HourSpend    float64
	DaySpend     float64
	MonthSpend   float64
	Tripped      bool
	TrippedWindow string // "session", "hour", "day", "month", or "" if not tripped
}

// Breaker tracks spend across four concurrent rolling windows and decides
// whether a new request of a given estimated cost should be allowed.
type Breaker struct {
	cfg Config

	mu      sync.Mutex
	session float64 // session spend never rolls off — cleared only by Reset
	hour    []sample
	day     []sample
	month   []sample
}

// New constructs a Breaker. A zero-value Action defaults to ActionStop.
func New(cfg Config) *Breaker {
	if cfg.Action == "" {
		cfg.Action = ActionStop
	}
	return &Breaker{cfg: cfg}
}

// Check reports whether a request estimated to cost estimatedCost should be
// allowed under the current spend, without recording anything. Callers that
// get a true pass must still call RecordSpend once the actual cost is known.
func (b *Breaker) Check(estimatedCost float64) (allowed bool, trippedWindow string) {
	return b.CheckAt(time.Now(), estimatedCost)
}

// CheckAt is Check with an injectable clock, for deterministic tests.
func (b *Breaker) CheckAt(now time.Time, estimatedCost float64) (allowed bool, trippedWindow string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now)

	if l := b.cfg.Limits.PerSession; l > 0 && b.session+estimatedCost > l {
		return b.decide("session")
	}
	if l := b.cfg.Limits.PerHour; l > 0 && sum(b.hour)+estimatedCost > l {
		return b.decide("hour")
	}
	if l := b.cfg.Limits.PerDay; l > 0 && sum(b.day)+estimatedCost > l {
		return b.decide("day")
	}
	if l := b.cfg.Limits.PerMonth; l > 0 && sum(b.month)+estimatedCost > l {
		return b.decide("month")
	}
	return true, ""
}

// decide applies the configured Action once a window would be exceeded:
// ActionWarn still allows the request through (caller is expected to emit a
// warning event); ActionStop blocks it.
func (b *Breaker) decide(window string) (allowed bool, trippedWindow string) {
	if b.cfg.Action == ActionWarn {
		return true, window
	}
	return false, window
}

// RecordSpend records an actual settled cost against all four windows,
// reporting whether this spend pushed any window over its configured limit.
func (b *Breaker) RecordSpend(cost float64) (tripped bool, trippedWindow string) {
	return b.RecordSpendAt(time.Now(), cost)
}

// RecordSpendAt is RecordSpend with an injectable clock.
func (b *Breaker) RecordSpendAt(now time.Time, cost float64) (tripped bool, trippedWindow string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now)
	b.session += cost
	b.hour = append(b.hour, sample{at: now, cost: cost})
	b.day = append(b.day, sample{at: now, cost: cost})
	b.month = append(b.month, sample{at: now, cost: cost})

	return b.trippedWindowLocked()
}

// trippedWindowLocked must be called with b.mu held; it reports the first
// window (session, then hour, day, month) currently over its limit.
func (b *Breaker) trippedWindowLocked() (tripped bool, window string) {
	switch {
	case b.cfg.Limits.PerSession > 0 && b.session > b.cfg.Limits.PerSession:
		return true, "session"
	case b.cfg.Limits.PerHour > 0 && sum(b.hour) > b.cfg.Limits.PerHour:
		return true, "hour"
	case b.cfg.Limits.PerDay > 0 && sum(b.day) > b.cfg.Limits.PerDay:
		return true, "day"
	case b.cfg.Limits.PerMonth > 0 && sum(b.month) > b.cfg.Limits.PerMonth:
		return true, "month"
	}
	return false, ""
}

// GetStatus returns the current spend in each window and whether any limit
// is presently crossed.
func (b *Breaker) GetStatus() Status {
	return b.GetStatusAt(time.Now())
}

// GetStatusAt is GetStatus with an injectable clock.
func (b *Breaker) GetStatusAt(now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now)
	s := Status{
		SessionSpend: b.session,
		HourSpend:    sum(b.hour),
		DaySpend:     sum(b.day),
		MonthSpend:   sum(b.month),
	}

	switch {
	case b.cfg.Limits.PerSession > 0 && s.SessionSpend > b.cfg.Limits.PerSession:
		s.Tripped, s.TrippedWindow = true, "session"
	case b.cfg.Limits.PerHour > 0 && s.HourSpend > b.cfg.Limits.PerHour:
		s.Tripped, s.TrippedWindow = true, "hour"
	case b.cfg.Limits.PerDay > 0 && s.DaySpend > b.cfg.Limits.PerDay:
		s.Tripped, s.TrippedWindow = true, "day"
	case b.cfg.Limits.PerMonth > 0 && s.MonthSpend > b.cfg.Limits.PerMonth:
		s.Tripped, s.TrippedWindow = true, "month"
	}
	return s
}

// Reset clears every window, including session spend.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = 0
	b.hour = nil
	b.day = nil
	b.month = nil
}

// prune must be called with b.mu held; it drops samples that have rolled out
// of their respective windows.
func (b *Breaker) prune(now time.Time) {
	b.hour = pruneOlderThan(b.hour, now, time.Hour)
	b.day = pruneOlderThan(b.day, now, 24*time.Hour)
	b.month = pruneOlderThan(b.month, now, 30*24*time.Hour)
}

func pruneOlderThan(samples []sample, now time.Time, window time.Duration) []sample {
	cut := 0
	for cut < len(samples) && now.Sub(samples[cut].at) > window {
		cut++
	}
	if cut == 0 {
		return samples
	}
	return append([]sample(nil), samples[cut:]...)
}

func sum(samples []sample) float64 {
	var total float64
	for _, s := range samples {
		total += s.cost
	}
	return total
}
