package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record <experiment> <variant> <success|failure>",
	Short: "Record an outcome",
	Long: `Record the outcome of one assignment. Each outcome must be delivered
once: Bayesian posteriors and bandit rewards are not idempotent.

Examples:
  expstat record hero A success
  expstat record banner green 0`,
	Args: cobra.ExactArgs(3),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	outcome, err := experiment.ParseOutcome(args[2])
	if err != nil {
		return err
	}

	return withService(func(svc *service.Service) error {
		rec, err := svc.RecordOutcome(context.Background(), experiment.Event{
			ExperimentID: args[0],
			VariantID:    args[1],
			Outcome:      outcome,
		})
		if err != nil {
			return fmt.Errorf("failed to record outcome: %w", err)
		}

		v := rec.Variant
		switch st := v.State.(type) {
		case experiment.BayesianState:
			fmt.Printf("Recorded %s for %s: posterior Beta(%g, %g), mean %s\n",
				outcome, v.Label, st.AlphaPost, st.BetaPost, formatPercent(st.Mean()))
		case experiment.BanditState:
			fmt.Printf("Recorded %s for %s: %d/%d successes, mean reward %s\n",
				outcome, v.Label, st.Successes, st.Pulls, formatPercent(st.MeanReward))
		default:
			fmt.Printf("Recorded %s for %s: %s conversions of %s assignments\n",
				outcome, v.Label, formatNumber(v.Conversions), formatNumber(v.Assignments))
		}

		if u := rec.Bandit; u != nil {
			if u.Reallocated {
				fmt.Printf("Traffic reallocated after %d resolved pulls\n", u.ResolvedPulls)
			}
			if u.Regret != nil {
				fmt.Printf("Cumulative regret at %d pulls: %.2f\n", u.Regret.TotalPulls, u.Regret.Regret)
			}
		}
		return nil
	})
}
