package userbudget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newManager() *Manager {
	return New(Config{
		Users: map[string]Limit{
			"alice": {Daily: 10, Monthly: 100, Tier: "pro"},
		},
		Default:    &Limit{Daily: 1, Monthly: 5, Tier: "free"},
		TierModels: map[string]string{"pro": "gpt-4o", "free": "gpt-4o-mini"},
	})
}

func TestCheckRejectsEmptyUserID(t *testing.T) {
	m := newManager()
	res := m.Check("", 1)
	require.False(t, res.Allowed)
	require.Equal(t, "BUDGET_USER_ID_INVALID", res.Reason)
}

func TestCheckAllowsWithinDailyLimit(t *testing.T) {
	m := newManager()
	res := m.Check("alice", 5)
	require.True(t, res.Allowed)
}

func TestCheckRejectsOverDailyLimit(t *testing.T) {
	m := newManager()
	res := m.Check("alice", 11)
	require.False(t, res.Allowed)
	require.Equal(t, "BUDGET_DAILY_EXCEEDED", res.Reason)
}

func TestCheckRejectsOverMonthlyLimit(t *testing.T) {
	m := New(Config{Default: &Limit{Daily: 1000, Monthly: 5}})
	res := m.Check("bob", 6)
	require.False(t, res.Allowed)
	require.Equal(t, "BUDGET_MONTHLY_EXCEEDED", res.Reason)
}

func TestInFlightReservationBlocksConcurrentOverspend(t *testing.T) {
	m := newManager()
	first := m.Check("alice", 6)
	require.True(t, first.Allowed)

	second := m.Check("alice", 6)
	require.False(t, second.Allowed, "second concurrent reservation should be blocked by the first's in-flight hold")
}

func TestReleaseInFlightFreesReservation(t *testing.T) {
	m := newManager()
	first := m.Check("alice", 6)
	require.True(t, first.Allowed)
	m.ReleaseInFlight("alice", 6)

	second := m.Check("alice", 6)
	require.True(t, second.Allowed)
}

func TestRecordSpendSettlesAndFreesReservation(t *testing.T) {
	m := newManager()
	first := m.Check("alice", 6)
	require.True(t, first.Allowed)
	m.RecordSpend("alice", 6, 4) // actual cost came in lower than the estimate

	status := m.GetStatus("alice")
	require.Equal(t, 4.0, status.DailySpend)

	// Reservation released, so another 6-unit request should now fit (4 settled + 6 = 10, not above the limit).
	second := m.Check("alice", 6)
	require.True(t, second.Allowed)
}

func TestDailyWindowResetsAfterRollover(t *testing.T) {
	m := newManager()
	base := time.Now()
	m.RecordSpendAt(base, "alice", 0, 9)

	status := m.GetStatusAt(base, "alice")
	require.Equal(t, 9.0, status.DailySpend)

	nextDay := base.Add(25 * time.Hour)
	rolled := m.GetStatusAt(nextDay, "alice")
	require.Zero(t, rolled.DailySpend)
}

func TestModelForUserUsesTierMapping(t *testing.T) {
	m := newManager()
	model, ok := m.ModelForUser("alice")
	require.True(t, ok)
	require.Equal(t, "gpt-4o", model)
}

func TestModelForUserFallsBackToDefaultTier(t *testing.T) {
	m := newManager()
	model, ok := m.ModelForUser("unknown-user")
	require.True(t, ok)
	require.Equal(t, "gpt-4o-mini", model)
}

func TestPercentUsedCapsAtNineNineNine(t *testing.T) {
	m := newManager()
	m.RecordSpend("alice", 0, 500) // well beyond the 10-unit daily limit via direct settlement (5000%)
	status := m.GetStatus("alice")
	require.Equal(t, 999.0, status.DailyPercentUsed)
}

func TestGetStatusReportsOverBudgetAndRemaining(t *testing.T) {
	m := newManager()
	first := m.Check("alice", 6)
	require.True(t, first.Allowed)

	status := m.GetStatus("alice")
	require.Equal(t, 6.0, status.DailyInflight)
	require.Equal(t, 10.0, status.DailyRemaining) // remaining is limit-spend, independent of inflight
	require.False(t, status.IsOverBudget)          // 0 spend + 6 inflight < 10 limit

	m.RecordSpend("alice", 6, 10) // settles over the 10-unit daily limit
	status = m.GetStatus("alice")
	require.True(t, status.IsOverBudget)
	require.Zero(t, status.DailyRemaining)
}

func TestShouldWarnRespectsCooldown(t *testing.T) {
	m := newManager()
	now := time.Now()
	require.True(t, m.ShouldWarn("alice", now, time.Minute))
	require.False(t, m.ShouldWarn("alice", now.Add(30*time.Second), time.Minute))
	require.True(t, m.ShouldWarn("alice", now.Add(2*time.Minute), time.Minute))
}

func TestShouldWarnEvictsOldestWhenFull(t *testing.T) {
	m := New(Config{MaxWarningEntries: 2})
	now := time.Now()
	require.True(t, m.ShouldWarn("u1", now, time.Minute))
	require.True(t, m.ShouldWarn("u2", now, time.Minute))
	require.True(t, m.ShouldWarn("u3", now, time.Minute)) // evicts u1
	require.True(t, m.ShouldWarn("u1", now, time.Minute)) // u1 was evicted, treated as new
}
