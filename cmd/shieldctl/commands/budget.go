package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBudgetCommand groups user-budget inspection subcommands.
func NewBudgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect per-user spend budgets",
	}
	cmd.AddCommand(newBudgetShowCommand())
	return cmd
}

func newBudgetShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's daily/monthly spend against their limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]

			snap, err := LoadSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			status, ok := snap.UserBudgets[userID]
			if !ok {
				return fmt.Errorf("no budget status published for user %q (the host process must include it when publishing its snapshot)", userID)
			}

			if outputJSON {
				OutputJSON(status)
				return nil
			}

			OutputKV([][2]string{
				{"User", status.UserID},
				{"Tier", status.Tier},
				{"Daily spend", fmt.Sprintf("$%.4f / $%.4f (%.1f%%)", status.DailySpend, status.DailyLimit, status.DailyPercentUsed)},
				{"Monthly spend", fmt.Sprintf("$%.4f / $%.4f (%.1f%%)", status.MonthlySpend, status.MonthlyLimit, status.MonthlyPercentUsed)},
				{"Daily inflight", fmt.Sprintf("$%.4f", status.DailyInflight)},
				{"Daily remaining", fmt.Sprintf("$%.4f", status.DailyRemaining)},
				{"Monthly inflight", fmt.Sprintf("$%.4f", status.MonthlyInflight)},
				{"Monthly remaining", fmt.Sprintf("$%.4f", status.MonthlyRemaining)},
				{"Over budget", fmt.Sprintf("%t", status.IsOverBudget)},
			})
			return nil
		},
	}
}
