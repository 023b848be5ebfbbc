// Command shieldctl is a read-only operational CLI for inspecting a running
// shield instance's published Snapshot (spec.md §6): breaker trip state,
// guard load, cache size, ledger totals, and per-user budget spend. It never
// talks to the shield in-process — the host application publishes a
// Snapshot periodically with shield.WriteSnapshot, and shieldctl reads it
// back from a local file or a Redis key, mirroring the teacher CLI's
// direct-DB-access-vs-remote-API-access duality.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amerfu/llmshield/cmd/shieldctl/commands"
)

var (
	snapshotFile string
	redisAddr    string
	redisKey     string
	jsonOutput   bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "shieldctl",
		Short: "Inspect a running llmshield instance",
		Long:  "Read-only status, breaker, and budget inspection for a running llmshield instance's published snapshot.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			commands.SetSnapshotFile(snapshotFile)
			commands.SetRedisConfig(redisAddr, redisKey)
			commands.SetOutputJSON(jsonOutput)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&snapshotFile, "snapshot-file", "", "path to a JSON snapshot published by shield.WriteSnapshot")
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address to read a published snapshot from")
	root.PersistentFlags().StringVar(&redisKey, "redis-key", "shield:snapshot", "Redis key the snapshot was published under")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(commands.NewStatusCommand())
	root.AddCommand(commands.NewBreakerCommand())
	root.AddCommand(commands.NewBudgetCommand())

	return root
}
