// Package userbudget implements the per-user budget manager (spec.md §4.9):
// daily/monthly spend tracking per user id, synchronous in-flight
// reservations so concurrent requests from the same user can't blow past a
// limit before any of them settles, and tier-based default model selection.
package userbudget

import (
	"sync"
	"time"
)

// Limit is one user's configured spend ceiling and tier.
type Limit struct {
	Daily   float64
	Monthly float64
	Tier    string
}

// Config mirrors spec.md §6's user_budget config block.
type Config struct {
	Users      map[string]Limit
	Default    *Limit
	TierModels map[string]string // tier name -> default model id

	MaxUsers         int
	MaxSettledRecords int
	MaxWarningEntries int
}

const (
	defaultMaxUsers          = 5000
	defaultMaxSettledRecords = 50000
	defaultMaxWarningEntries = 500
)

type userState struct {
	dailySpend     float64
	monthlySpend   float64
	dailyInFlight  float64
	monthlyInFlight float64
	dailyResetAt   time.Time
	monthlyResetAt time.Time
}

// Status is returned by GetStatus.
type Status struct {
	UserID             string
	DailySpend         float64
	MonthlySpend       float64
	DailyLimit         float64
	MonthlyLimit       float64
	DailyInflight      float64
	MonthlyInflight    float64
	DailyRemaining     float64 // max(0, DailyLimit-DailySpend); 0 when DailyLimit is unlimited (<=0)
	MonthlyRemaining   float64
	DailyPercentUsed   float64
	MonthlyPercentUsed float64
	IsOverBudget       bool // spend+inflight at or past either limit
	Tier               string
}

// Manager tracks per-user spend. The zero value is not usable; construct
// with New.
type Manager struct {
	cfg Config

	mu           sync.Mutex
	users        map[string]*userState
	settledCount int

	warned      map[string]time.Time // userID -> last warn emission, capped independently of users
	warnedOrder []string              // fifo eviction order for warned
}

// New constructs a Manager from cfg, applying cardinality-cap defaults.
func New(cfg Config) *Manager {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = defaultMaxUsers
	}
	if cfg.MaxSettledRecords <= 0 {
		cfg.MaxSettledRecords = defaultMaxSettledRecords
	}
	if cfg.MaxWarningEntries <= 0 {
		cfg.MaxWarningEntries = defaultMaxWarningEntries
	}
	return &Manager{
		cfg:    cfg,
		users:  make(map[string]*userState),
		warned: make(map[string]time.Time),
	}
}

// ShouldWarn reports whether a userBudget:warning event should be emitted
// for userID right now, given cooldown between consecutive warnings for the
// same user. The warned set is capped at MaxWarningEntries; when a new user
// arrives and the set is full, the earliest-inserted entry is evicted to make
// room. Re-warning an existing user refreshes its timestamp but not its
// position in that insertion order.
func (m *Manager) ShouldWarn(userID string, now time.Time, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.warned[userID]; ok {
		if now.Sub(last) < cooldown {
			return false
		}
		m.warned[userID] = now
		return true
	}

	if len(m.warned) >= m.cfg.MaxWarningEntries && len(m.warnedOrder) > 0 {
		oldest := m.warnedOrder[0]
		m.warnedOrder = m.warnedOrder[1:]
		delete(m.warned, oldest)
	}

	m.warned[userID] = now
	m.warnedOrder = append(m.warnedOrder, userID)
	return true
}

func (m *Manager) limitFor(userID string) Limit {
	if l, ok := m.cfg.Users[userID]; ok {
		return l
	}
	if m.cfg.Default != nil {
		return *m.cfg.Default
	}
	return Limit{}
}

// ModelForUser returns the tier-default model id configured for userID's
// tier, and whether one is configured.
func (m *Manager) ModelForUser(userID string) (string, bool) {
	limit := m.limitFor(userID)
	if limit.Tier == "" {
		return "", false
	}
	model, ok := m.cfg.TierModels[limit.Tier]
	return model, ok
}

// getOrCreate must be called with m.mu held. It resets a user's day/month
// spend if the corresponding window has rolled over, and, if the cardinality
// cap would otherwise be exceeded, evicts the tracked user whose daily window
// resets earliest (a newly seen user always gets slack; an existing one is
// never evicted out from under itself). Insertion order is not tracked: among
// users with the same daily reset time, which one is evicted is not defined.
func (m *Manager) getOrCreate(userID string, now time.Time) *userState {
	if u, ok := m.users[userID]; ok {
		rollWindows(u, now)
		return u
	}

	if len(m.users) >= m.cfg.MaxUsers {
		m.evictOldestLocked()
	}

	u := &userState{
		dailyResetAt:   endOfDay(now),
		monthlyResetAt: endOfMonth(now),
	}
	m.users[userID] = u
	return u
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, u := range m.users {
		ref := u.dailyResetAt
		if first || ref.Before(oldest) {
			oldest, oldestID, first = ref, id, false
		}
	}
	if oldestID != "" {
		delete(m.users, oldestID)
	}
}

func rollWindows(u *userState, now time.Time) {
	if !now.Before(u.dailyResetAt) {
		u.dailySpend = 0
		u.dailyInFlight = 0
		u.dailyResetAt = endOfDay(now)
	}
	if !now.Before(u.monthlyResetAt) {
		u.monthlySpend = 0
		u.monthlyInFlight = 0
		u.monthlyResetAt = endOfMonth(now)
	}
}

func endOfDay(now time.Time) time.Time {
	y, mo, d := now.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

func endOfMonth(now time.Time) time.Time {
	y, mo, _ := now.Date()
	return time.Date(y, mo, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}

// CheckResult is returned by Check.
type CheckResult struct {
	Allowed bool
	Reason  string // "BUDGET_USER_ID_INVALID", "BUDGET_DAILY_EXCEEDED", "BUDGET_MONTHLY_EXCEEDED", or ""
}

// Check reserves estimatedCost against userID's daily and monthly budgets,
// admitting the request only if neither limit (spend plus all current
// in-flight reservations) would be exceeded. On admission, the reservation
// is held until ReleaseInFlight or RecordSpend is called exactly once.
func (m *Manager) Check(userID string, estimatedCost float64) CheckResult {
	return m.CheckAt(time.Now(), userID, estimatedCost)
}

// CheckAt is Check with an injectable clock.
func (m *Manager) CheckAt(now time.Time, userID string, estimatedCost float64) CheckResult {
	if userID == "" {
		return CheckResult{Allowed: false, Reason: "BUDGET_USER_ID_INVALID"}
	}

	limit := m.limitFor(userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.getOrCreate(userID, now)

	if limit.Daily > 0 && u.dailySpend+u.dailyInFlight+estimatedCost > limit.Daily {
		return CheckResult{Allowed: false, Reason: "BUDGET_DAILY_EXCEEDED"}
	}
	if limit.Monthly > 0 && u.monthlySpend+u.monthlyInFlight+estimatedCost > limit.Monthly {
		return CheckResult{Allowed: false, Reason: "BUDGET_MONTHLY_EXCEEDED"}
	}

	u.dailyInFlight += estimatedCost
	u.monthlyInFlight += estimatedCost
	return CheckResult{Allowed: true}
}

// RecordSpend settles a prior successful reservation: it releases the
// reserved estimatedCost and records actualCost as settled spend. Must be
// called exactly once per admitted Check.
func (m *Manager) RecordSpend(userID string, estimatedCost, actualCost float64) {
	m.RecordSpendAt(time.Now(), userID, estimatedCost, actualCost)
}

// RecordSpendAt is RecordSpend with an injectable clock.
func (m *Manager) RecordSpendAt(now time.Time, userID string, estimatedCost, actualCost float64) {
	if userID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.getOrCreate(userID, now)
	u.dailyInFlight -= estimatedCost
	u.monthlyInFlight -= estimatedCost
	if u.dailyInFlight < 0 {
		u.dailyInFlight = 0
	}
	if u.monthlyInFlight < 0 {
		u.monthlyInFlight = 0
	}
	u.dailySpend += actualCost
	u.monthlySpend += actualCost

	if m.settledCount < m.cfg.MaxSettledRecords {
		m.settledCount++
	}
}

// ReleaseInFlight releases a reservation without recording spend, used when
// a request fails before producing a billable response. Must be called
// exactly once per admitted Check that does not settle via RecordSpend.
func (m *Manager) ReleaseInFlight(userID string, estimatedCost float64) {
	m.ReleaseInFlightAt(time.Now(), userID, estimatedCost)
}

// ReleaseInFlightAt is ReleaseInFlight with an injectable clock.
func (m *Manager) ReleaseInFlightAt(now time.Time, userID string, estimatedCost float64) {
	if userID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.getOrCreate(userID, now)
	u.dailyInFlight -= estimatedCost
	u.monthlyInFlight -= estimatedCost
	if u.dailyInFlight < 0 {
		u.dailyInFlight = 0
	}
	if u.monthlyInFlight < 0 {
		u.monthlyInFlight = 0
	}
}

// GetStatus returns a snapshot of userID's spend, limits, in-flight
// reservations, remaining headroom, and percent-used (capped at 999 to
// avoid reporting Infinity when a limit is tiny and usage has blown past it).
func (m *Manager) GetStatus(userID string) Status {
	return m.GetStatusAt(time.Now(), userID)
}

// GetStatusAt is GetStatus with an injectable clock.
func (m *Manager) GetStatusAt(now time.Time, userID string) Status {
	limit := m.limitFor(userID)

	m.mu.Lock()
	u := m.getOrCreate(userID, now)
	daily, monthly := u.dailySpend, u.monthlySpend
	dailyInflight, monthlyInflight := u.dailyInFlight, u.monthlyInFlight
	m.mu.Unlock()

	overBudget := (limit.Daily > 0 && daily+dailyInflight >= limit.Daily) ||
		(limit.Monthly > 0 && monthly+monthlyInflight >= limit.Monthly)

	return Status{
		UserID:             userID,
		DailySpend:         daily,
		MonthlySpend:       monthly,
		DailyLimit:         limit.Daily,
		MonthlyLimit:       limit.Monthly,
		DailyInflight:      dailyInflight,
		MonthlyInflight:    monthlyInflight,
		DailyRemaining:     remaining(daily, limit.Daily),
		MonthlyRemaining:   remaining(monthly, limit.Monthly),
		DailyPercentUsed:   percentCapped(daily, limit.Daily),
		MonthlyPercentUsed: percentCapped(monthly, limit.Monthly),
		IsOverBudget:       overBudget,
		Tier:               limit.Tier,
	}
}

// remaining reports max(0, limit-spend), or 0 when limit is unlimited (<=0).
func remaining(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	if r := limit - spend; r > 0 {
		return r
	}
	return 0
}

// percentCapped caps at 999 rather than 100 (spec.md §4.9) so a caller can
// tell "slightly over" from "wildly over" without risking +Inf once spend
// keeps accumulating against an already-exceeded limit.
func percentCapped(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := spend / limit * 100
	if pct > 999 {
		return 999
	}
	if pct < 0 {
		return 0
	}
	return pct
}
