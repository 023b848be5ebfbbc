// Package commands implements shieldctl's subcommands: a thin, read-only
// inspection layer over a running shield's published Snapshot, grounded on
// cmd/pllm/commands' dual direct-access/remote-access CLI shape.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amerfu/llmshield/internal/shield"
)

var (
	snapshotFile string
	redisAddr    string
	redisKey     string
	outputJSON   bool
)

// SetSnapshotFile configures direct file access to a published snapshot.
func SetSnapshotFile(path string) { snapshotFile = path }

// SetRedisConfig configures remote access to a snapshot published to Redis.
func SetRedisConfig(addr, key string) {
	redisAddr = addr
	redisKey = key
}

// SetOutputJSON sets the output format preference.
func SetOutputJSON(v bool) { outputJSON = v }

// IsFileAccess reports whether a local snapshot file is configured.
func IsFileAccess() bool { return snapshotFile != "" }

// IsRedisAccess reports whether Redis access is configured.
func IsRedisAccess() bool { return redisAddr != "" && redisKey != "" }

// LoadSnapshot reads the published Snapshot from whichever source is
// configured, preferring a local file over Redis when both are set.
func LoadSnapshot(ctx context.Context) (shield.Snapshot, error) {
	var raw []byte
	var err error

	switch {
	case IsFileAccess():
		raw, err = os.ReadFile(snapshotFile)
		if err != nil {
			return shield.Snapshot{}, fmt.Errorf("reading snapshot file: %w", err)
		}
	case IsRedisAccess():
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		raw, err = client.Get(ctx, redisKey).Bytes()
		if err != nil {
			return shield.Snapshot{}, fmt.Errorf("reading snapshot from redis: %w", err)
		}
	default:
		return shield.Snapshot{}, fmt.Errorf("no snapshot source configured: pass --snapshot-file or --redis-addr/--redis-key")
	}

	var snap shield.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return shield.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// OutputJSON prints data as indented JSON.
func OutputJSON(data interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
	}
}

// OutputKV prints a flat set of key/value rows in aligned columns.
func OutputKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	_ = w.Flush()
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
