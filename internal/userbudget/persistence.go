package userbudget

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// record is the durable shape of one user's spend state, serialized by
// Snapshot/LoadSnapshot — deliberately excludes in-flight reservations,
// which must not survive a restart (any request a crash interrupted never
// settles, so its reservation should simply vanish rather than permanently
// shrink that user's budget).
type record struct {
	DailySpend     float64   `json:"dailySpend"`
	MonthlySpend   float64   `json:"monthlySpend"`
	DailyResetAt   time.Time `json:"dailyResetAt"`
	MonthlyResetAt time.Time `json:"monthlyResetAt"`
}

// PersistentStore is the minimal key-value contract userbudget needs for
// surviving a process restart — spec.md §6's "opaque key-value store",
// the same role cache.Store plays for the response cache.
type PersistentStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Snapshot serializes every tracked user's settled spend (not in-flight
// reservations) to a map keyed by user id, for a host process to persist.
func (m *Manager) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.users))
	for id, u := range m.users {
		raw, err := json.Marshal(record{
			DailySpend:     u.dailySpend,
			MonthlySpend:   u.monthlySpend,
			DailyResetAt:   u.dailyResetAt,
			MonthlyResetAt: u.monthlyResetAt,
		})
		if err != nil {
			continue
		}
		out[id] = raw
	}
	return out
}

// LoadSnapshot restores settled spend for the given users from previously
// serialized records, skipping any whose reset window has already rolled
// over (a restart-then-resume should never resurrect a stale day's spend
// against the current window).
func (m *Manager) LoadSnapshot(now time.Time, snapshot map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, raw := range snapshot {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		u := &userState{
			dailyResetAt:   endOfDay(now),
			monthlyResetAt: endOfMonth(now),
		}
		if rec.DailyResetAt.After(now) {
			u.dailySpend = rec.DailySpend
			u.dailyResetAt = rec.DailyResetAt
		}
		if rec.MonthlyResetAt.After(now) {
			u.monthlySpend = rec.MonthlySpend
			u.monthlyResetAt = rec.MonthlyResetAt
		}
		m.users[id] = u
	}
}

// RedisStore implements PersistentStore over a redis client, mirroring
// internal/cache.RedisStore's Set/Get-over-bytes shape.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore that namespaces every key under prefix
// (e.g. "llmshield:userbudget:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// PersistAll writes every tracked user's Snapshot entry to store, one key
// per user id. Best-effort per spec.md §7: the first write error aborts
// the remaining writes and is returned, but it never panics or corrupts
// in-memory state.
func (m *Manager) PersistAll(ctx context.Context, store PersistentStore, ttl time.Duration) error {
	for id, raw := range m.Snapshot() {
		if err := store.Set(ctx, id, raw, ttl); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll loads a snapshot for each of userIDs from store into m,
// silently skipping ids with no stored record — a fresh restart against an
// empty store should behave exactly like one with no persistence configured.
func (m *Manager) RestoreAll(ctx context.Context, now time.Time, store PersistentStore, userIDs []string) error {
	snapshot := make(map[string][]byte)
	for _, id := range userIDs {
		raw, ok, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			snapshot[id] = raw
		}
	}
	m.LoadSnapshot(now, snapshot)
	return nil
}
