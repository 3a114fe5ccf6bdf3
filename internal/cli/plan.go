package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/service"
)

func init() {
	rootCmd.AddCommand(newPlanCmd())
}

func newPlanCmd() *cobra.Command {
	var (
		baseline    float64
		mde         float64
		targetPower float64
		alpha       float64
		variants    int
		dailyVolume int
		curve       bool
		experiment  string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the sample size for an experiment",
		Long: `Compute the per-variant sample size needed to detect an absolute lift of
--mde over --baseline. With --experiment the analysis is stored on that
experiment; with --daily-volume it includes a duration estimate.

Examples:
  expstat plan --baseline 0.10 --mde 0.02
  expstat plan --baseline 0.05 --mde 0.01 --variants 3 --daily-volume 2000
  expstat plan --baseline 0.10 --mde 0.02 --experiment hero --curve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := power.Request{
				BaselineRate: baseline,
				MDE:          mde,
				Power:        targetPower,
				Alpha:        alpha,
				VariantCount: variants,
				DailyVolume:  dailyVolume,
			}

			return withService(func(svc *service.Service) error {
				a, err := svc.PlanPower(context.Background(), experiment, req)
				if err != nil {
					return fmt.Errorf("failed to plan experiment: %w", err)
				}

				var points []power.CurvePoint
				if curve {
					if points, err = power.Curve(a.BaselineRate, a.MDE, a.Alpha); err != nil {
						return err
					}
				}

				w := cmd.OutOrStdout()
				if asJSON {
					return printJSON(w, struct {
						*power.Analysis
						Curve []power.CurvePoint `json:"curve,omitempty"`
					}{a, points})
				}

				fmt.Fprintf(w, "Baseline %s, detecting +%s (%.1f%% relative lift)\n",
					formatPercent(a.BaselineRate), formatPercent(a.MDE), a.RelativeLift*100)
				fmt.Fprintf(w, "Power %.0f%%, alpha %.3g, %d variants\n", a.Power*100, a.Alpha, a.VariantCount)
				fmt.Fprintf(w, "Sample size: %s per variant, %s total\n",
					formatNumber(a.SampleSizePerVariant), formatNumber(a.TotalSampleSize))
				if a.EstimatedDuration != nil {
					fmt.Fprintf(w, "Estimated duration: %d days at %s per day\n",
						*a.EstimatedDuration, formatNumber(a.DailyVolume))
				}
				if experiment != "" {
					fmt.Fprintf(w, "Saved to experiment '%s'\n", experiment)
				}

				if len(points) > 0 {
					fmt.Fprintln(w)
					fmt.Fprintln(w, "N/VARIANT  POWER")
					for _, p := range points {
						fmt.Fprintf(w, "%-9s  %.1f%%\n", formatNumber(p.SampleSize), p.Power*100)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&baseline, "baseline", 0, "baseline conversion rate, e.g. 0.10 (required)")
	cmd.Flags().Float64Var(&mde, "mde", 0, "minimum detectable effect as an absolute lift, e.g. 0.02 (required)")
	cmd.Flags().Float64Var(&targetPower, "power", power.DefaultPower, "statistical power")
	cmd.Flags().Float64Var(&alpha, "alpha", power.DefaultAlpha, "two-sided significance level")
	cmd.Flags().IntVar(&variants, "variants", 0, "number of variants (default 2, or the experiment's count)")
	cmd.Flags().IntVar(&dailyVolume, "daily-volume", 0, "units per day across all variants")
	cmd.Flags().BoolVar(&curve, "curve", false, "print power at standard sample sizes")
	cmd.Flags().StringVarP(&experiment, "experiment", "e", "", "store the analysis on this experiment")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	cmd.MarkFlagRequired("baseline")
	cmd.MarkFlagRequired("mde")

	return cmd
}
