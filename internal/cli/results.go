package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/service"
	"github.com/expstat/expstat/internal/stats"
)

var resultsJSON bool

var resultsCmd = &cobra.Command{
	Use:   "results <experiment>",
	Short: "Show detailed results for an experiment",
	Long: `Show the analysis of the experiment's mode: probabilities of being best and
credible intervals (bayesian), the check log and boundaries (sequential),
allocations and regret (bandit), or rates and confidence intervals
(frequentist).`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withService(func(svc *service.Service) error {
		r, err := svc.Results(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to build results: %w", err)
		}

		w := cmd.OutOrStdout()
		if resultsJSON {
			return printJSON(w, r)
		}

		e := r.Experiment
		fmt.Fprintf(w, "EXPERIMENT: %s\n", e.Name)
		fmt.Fprintf(w, "MODE: %s\n", e.Mode())
		fmt.Fprintf(w, "CREATED: %s\n", e.CreatedAt.Format("2006-01-02"))
		if e.Power != nil {
			fmt.Fprintf(w, "PLANNED: %s per variant", formatNumber(e.Power.SampleSizePerVariant))
			if e.Power.EstimatedDuration != nil {
				fmt.Fprintf(w, " (~%d days)", *e.Power.EstimatedDuration)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)

		switch {
		case r.Bayesian != nil:
			printBayesian(w, e, r.Bayesian)
		case r.Sequential != nil:
			printSequential(w, e, r.Sequential)
		case r.Bandit != nil:
			printBandit(w, e, r.Bandit)
		case r.Frequentist != nil:
			printFrequentist(w, r.Frequentist)
		}
		return nil
	})
}

func label(e *experiment.Experiment, variantID string) string {
	if v, err := e.Variant(variantID); err == nil {
		return v.Label
	}
	return variantID
}

func printBayesian(w io.Writer, e *experiment.Experiment, r *bayesian.Report) {
	fmt.Fprintln(w, "VARIANT           OBS      P(BEST)  EXP. LOSS  95% CREDIBLE")
	fmt.Fprintln(w, strings.Repeat("─", 64))

	for _, v := range r.Variants {
		indicator := ""
		if v.VariantID == r.Recommendation.VariantID {
			indicator = " ← LEADING"
		}
		ci := v.CredibleInterval
		fmt.Fprintf(w, "%-16s  %-7d  %-7s  %-9.4f  [%.1f%%, %.1f%%]%s\n",
			truncate(label(e, v.VariantID), 16),
			v.Observations,
			formatPercent(v.ProbabilityBest),
			v.ExpectedLoss,
			ci.Lower*100,
			ci.Upper*100,
			indicator,
		)
	}

	fmt.Fprintln(w)
	rec := r.Recommendation
	switch rec.Decision {
	case bayesian.DeclareWinner:
		fmt.Fprintf(w, "Recommendation: declare \"%s\" the winner (%.1f%% probability of being best)\n",
			label(e, rec.VariantID), rec.Confidence*100)
	case bayesian.LikelyWinner:
		fmt.Fprintf(w, "Recommendation: \"%s\" is likely best (%.1f%%), keep collecting data\n",
			label(e, rec.VariantID), rec.Confidence*100)
	default:
		fmt.Fprintln(w, "Recommendation: Not enough evidence yet, continue the experiment")
	}
}

func printSequential(w io.Writer, e *experiment.Experiment, r *sequential.Report) {
	fmt.Fprintf(w, "CONTROL: %s  TREATMENT: %s\n", e.Variants[0].Label, e.Variants[1].Label)
	fmt.Fprintf(w, "PLAN: %d checks up to %s per variant, alpha %.3g\n",
		r.Plan.NumChecks, formatNumber(r.Plan.PlannedSampleSize), r.Plan.Alpha)
	fmt.Fprintf(w, "STATUS: %s\n", strings.ToUpper(string(r.CurrentStatus)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "CHECK  N/VARIANT  UPPER    LOWER    ALPHA SPENT  Z        DECISION")
	fmt.Fprintln(w, strings.Repeat("─", 70))
	for _, b := range r.BoundaryData {
		z, decision := "-", "-"
		if b.CheckNumber <= len(r.History) {
			s := r.History[b.CheckNumber-1]
			z = fmt.Sprintf("%.3f", s.ZStatistic)
			decision = string(s.Decision)
		}
		fmt.Fprintf(w, "%-5d  %-9d  %-7.3f  %-7.3f  %-11.5f  %-7s  %s\n",
			b.CheckNumber, b.SampleSize, b.Upper, b.Lower, b.AlphaSpent, z, decision)
	}

	fmt.Fprintln(w)
	if next := r.NextCheckPoint; next.HasNext {
		fmt.Fprintf(w, "Next check: #%d at %s assignments per variant (%d remaining)\n",
			next.CheckNumber, formatNumber(next.NextSampleSize), next.Remaining)
	} else {
		fmt.Fprintln(w, "No checks remaining")
	}
}

func printBandit(w io.Writer, e *experiment.Experiment, r *bandit.Report) {
	fmt.Fprintln(w, "ARM               PULLS    SUCCESSES  MEAN     STD DEV  TRAFFIC")
	fmt.Fprintln(w, strings.Repeat("─", 64))

	for _, a := range r.Allocations {
		indicator := ""
		if a.VariantID == r.BestPerformer {
			indicator = " ← BEST"
		}
		fmt.Fprintf(w, "%-16s  %-7d  %-9d  %-7s  %-7.3f  %.1f%%%s\n",
			truncate(label(e, a.VariantID), 16),
			a.Pulls,
			a.Successes,
			formatPercent(a.MeanReward),
			a.RewardStdDev,
			a.CurrentAllocation,
			indicator,
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total reward: %.0f  Total regret: %.2f\n", r.TotalReward, r.TotalRegret)
	if len(r.RegretHistory) > 0 {
		fmt.Fprint(w, "Regret history:")
		for _, s := range r.RegretHistory {
			fmt.Fprintf(w, " %d:%.2f", s.TotalPulls, s.Regret)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, r.Summary)
}

func printFrequentist(w io.Writer, result *stats.Result) {
	fmt.Fprintln(w, "VARIANT           ASSIGNED  CONVERSIONS  RATE     95% CI")
	fmt.Fprintln(w, strings.Repeat("─", 60))

	for _, v := range result.Variants {
		indicator := ""
		if v.Index == result.LeadingVariant && len(result.Variants) > 1 {
			indicator = " ← LEADING"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Assignments == 0 {
			ciStr = "N/A"
		}

		fmt.Fprintf(w, "%-16s  %-8d  %-11d  %-7s  %s%s\n",
			truncate(v.Label, 16),
			v.Assignments,
			v.Conversions,
			formatPercent(v.Rate),
			ciStr,
			indicator,
		)
	}

	fmt.Fprintln(w)

	if len(result.Variants) > 1 {
		leadingName := result.Variants[result.LeadingVariant].Label
		confPct := result.ConfidenceLevel * 100

		if result.Confident {
			fmt.Fprintf(w, "Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, leadingName)
		} else if confPct >= 90 {
			fmt.Fprintf(w, "Statistical significance: %.1f%% confident \"%s\" beats control (not yet significant)\n", confPct, leadingName)
		} else {
			fmt.Fprintln(w, "Statistical significance: Not enough data to determine a winner")
		}
	}
}
