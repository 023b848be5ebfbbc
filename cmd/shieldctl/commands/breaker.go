package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBreakerCommand groups breaker inspection subcommands.
func NewBreakerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect the cost circuit breaker",
	}
	cmd.AddCommand(newBreakerShowCommand())
	return cmd
}

func newBreakerShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show circuit breaker windowed spend and trip state",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := LoadSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(snap.Breaker)
				return nil
			}

			rows := [][2]string{
				{"Tripped", fmt.Sprintf("%v", snap.Breaker.Tripped)},
				{"Tripped window", snap.Breaker.TrippedWindow},
				{"Session spend", fmt.Sprintf("$%.4f", snap.Breaker.SessionSpend)},
				{"Hour spend", fmt.Sprintf("$%.4f", snap.Breaker.HourSpend)},
				{"Day spend", fmt.Sprintf("$%.4f", snap.Breaker.DaySpend)},
				{"Month spend", fmt.Sprintf("$%.4f", snap.Breaker.MonthSpend)},
			}
			if snap.Breaker.TrippedWindow == "" {
				rows[1] = [2]string{"Tripped window", "none"}
			}
			OutputKV(rows)
			return nil
		},
	}
}
