package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand reports the overall health snapshot: breaker state,
// guard load, cache size, and ledger totals.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show overall shield status",
		Long:  "Show breaker, guard, cache, and ledger status from the last published snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := LoadSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(snap)
				return nil
			}

			fmt.Printf("Shield status (as of %s)\n\n", formatAge(snap.TakenAt))
			OutputKV([][2]string{
				{"Breaker tripped", fmt.Sprintf("%v", snap.Breaker.Tripped)},
				{"Breaker session spend", fmt.Sprintf("$%.4f", snap.Breaker.SessionSpend)},
				{"Breaker hour spend", fmt.Sprintf("$%.4f", snap.Breaker.HourSpend)},
				{"Breaker day spend", fmt.Sprintf("$%.4f", snap.Breaker.DaySpend)},
				{"Breaker month spend", fmt.Sprintf("$%.4f", snap.Breaker.MonthSpend)},
				{"In-flight requests", fmt.Sprintf("%d", snap.Guard.InFlightCount)},
				{"Requests last minute", fmt.Sprintf("%d", snap.Guard.RequestsLastMinute)},
				{"Trailing-hour guard cost", fmt.Sprintf("$%.4f", snap.Guard.TrailingHourCost)},
				{"Cache entries", fmt.Sprintf("%d", snap.CacheSize)},
				{"Cache hit rate", fmt.Sprintf("%.1f%%", snap.Ledger.CacheHitRate*100)},
				{"Ledger entries", fmt.Sprintf("%d", snap.Ledger.Count)},
				{"Total cost", fmt.Sprintf("$%.4f", snap.Ledger.TotalCost)},
				{"Total savings", fmt.Sprintf("$%.4f", snap.Ledger.TotalSavings)},
			})
			return nil
		},
	}
}
