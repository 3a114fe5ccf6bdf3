package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/service"
)

var assignCmd = &cobra.Command{
	Use:   "assign <experiment> <variant>",
	Short: "Record an assignment",
	Long: `Record that a unit was assigned to a variant. Variants are referenced by
label or ID. On a sequential experiment this runs the next interim check
once its sample size is reached; on a bandit it counts as a pull.

Examples:
  expstat assign hero A
  expstat assign checkout new`,
	Args: cobra.ExactArgs(2),
	RunE: runAssign,
}

func init() {
	rootCmd.AddCommand(assignCmd)
}

func runAssign(cmd *cobra.Command, args []string) error {
	return withService(func(svc *service.Service) error {
		rec, err := svc.RecordAssignment(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to record assignment: %w", err)
		}

		fmt.Printf("Assigned %s: %s assignments, %s conversions\n",
			rec.Variant.Label,
			formatNumber(rec.Variant.Assignments),
			formatNumber(rec.Variant.Conversions),
		)
		if rec.Interim != nil && rec.Interim.Snapshot != nil {
			printSnapshotLine(rec.Interim.Snapshot)
			fmt.Printf("Status: %s\n", rec.Interim.Status)
		}
		return nil
	})
}
