package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/service"
)

var interimCmd = &cobra.Command{
	Use:   "interim <experiment>",
	Short: "Run the next sequential check now",
	Long: `Force the next interim analysis of a sequential experiment, comparing the
second variant (treatment) against the first (control), whether or not its
planned sample size has been reached.`,
	Args: cobra.ExactArgs(1),
	RunE: runInterim,
}

func init() {
	rootCmd.AddCommand(interimCmd)
}

func runInterim(cmd *cobra.Command, args []string) error {
	return withService(func(svc *service.Service) error {
		res, err := svc.PerformInterimAnalysis(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to run interim analysis: %w", err)
		}
		if res.Exhausted {
			return res.Err()
		}

		printSnapshotLine(res.Snapshot)
		fmt.Printf("Status: %s\n", res.Status)
		return nil
	})
}

func printSnapshotLine(s *sequential.Snapshot) {
	fmt.Printf("Check #%d: z=%.3f bounds [%.3f, %.3f] alpha spent %.5f (n=%d/%d) → %s\n",
		s.CheckNumber, s.ZStatistic, s.Lower, s.Upper, s.AlphaSpent, s.ControlN, s.TreatmentN, s.Decision)
}
