package shield

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amerfu/llmshield/internal/breaker"
	"github.com/amerfu/llmshield/internal/guard"
	"github.com/amerfu/llmshield/internal/ledger"
	"github.com/amerfu/llmshield/internal/userbudget"
)

// Snapshot is a point-in-time, JSON-serializable view of a Shield's state,
// for the shieldctl CLI's read-only status/breaker/budget subcommands
// (spec.md §6's "running process's exported snapshot"). A host process
// publishes one periodically with WriteSnapshot; shieldctl never talks to
// the live Shield directly.
type Snapshot struct {
	TakenAt     time.Time                        `json:"takenAt"`
	Breaker     breaker.Status                    `json:"breaker"`
	Guard       guard.Stats                        `json:"guard"`
	CacheSize   int                                `json:"cacheSize"`
	Ledger      ledger.Summary                      `json:"ledger"`
	UserBudgets map[string]userbudget.Status        `json:"userBudgets"`
}

// Snapshot captures the shield's current state across every inspectable
// subsystem. userIDs lists which per-user budget statuses to include — a
// host process typically passes its known active user id set, since the
// budget manager itself has no "list all users" operation (spec.md §4.9
// is keyed strictly by caller-supplied user id).
func (s *Shield) Snapshot(userIDs []string) Snapshot {
	snap := Snapshot{
		TakenAt:     s.now(),
		Breaker:     s.breaker.GetStatusAt(s.now()),
		CacheSize:   0,
		Ledger:      s.ledger.Summarize(),
		UserBudgets: make(map[string]userbudget.Status, len(userIDs)),
	}
	if s.guard != nil {
		snap.Guard = s.guard.Stats()
	}
	if s.cache != nil {
		snap.CacheSize = s.cache.Len()
	}
	for _, id := range userIDs {
		snap.UserBudgets[id] = s.userBudget.GetStatusAt(s.now(), id)
	}
	return snap
}

// WriteSnapshot serializes a Snapshot and writes it to store under key, for
// shieldctl to read back. Errors are the caller's to handle; unlike the
// cache's fire-and-forget Store, a snapshot publish failure is usually worth
// surfacing since it is the operator's only window into a running shield.
func WriteSnapshot(ctx context.Context, store SnapshotStore, key string, snap Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, ttl)
}

// SnapshotStore is the minimal write side of cache.Store, reused here so
// shieldctl's Redis-backed publish path doesn't need its own client type.
type SnapshotStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
