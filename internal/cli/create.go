package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/service"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants    string
		mode        string
		priors      []string
		plannedN    int
		checks      int
		alpha       float64
		algorithm   string
		epsilon     float64
		allocations string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified name, variants and analysis mode.
The first variant is the control. Without --mode you are asked to pick one.

Examples:
  expstat create hero --variants "A,B" --mode bayesian --prior A=2:8
  expstat create checkout --variants "control,new" --mode sequential --planned-n 5000 --checks 5
  expstat create banner --variants "red,green,blue" --mode bandit --algorithm thompson
  expstat create cta --variants "A,B,C" --mode bandit --algorithm epsilon_greedy --epsilon 0.2 --allocations 50,25,25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variantList := splitList(variants)
			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			if mode == "" {
				picked, err := promptMode()
				if err != nil {
					return err
				}
				mode = picked
			}
			m, err := experiment.ParseMode(mode)
			if err != nil {
				return err
			}

			req := service.CreateRequest{Name: args[0], Variants: variantList}
			switch m {
			case experiment.ModeBayesian:
				parsed, err := parsePriors(priors)
				if err != nil {
					return err
				}
				req.Analysis = experiment.Bayesian{Priors: parsed}
			case experiment.ModeSequential:
				if plannedN == 0 {
					return fmt.Errorf("sequential mode needs --planned-n (per-variant sample size, see 'expstat plan')")
				}
				plan, err := sequential.Initialize(plannedN, checks, alpha)
				if err != nil {
					return err
				}
				req.Analysis = experiment.Sequential{Plan: plan}
			case experiment.ModeBandit:
				algo, err := bandit.ParseAlgorithm(algorithm)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("epsilon") && algo != bandit.EpsilonGreedy {
					return fmt.Errorf("--epsilon only applies to --algorithm %s", bandit.EpsilonGreedy)
				}
				b := experiment.Bandit{Algorithm: algo}
				if algo == bandit.EpsilonGreedy {
					b.Epsilon = epsilon
				}
				req.Analysis = b
				if req.Allocations, err = parseAllocations(allocations); err != nil {
					return err
				}
			case experiment.ModeFrequentist:
				req.Analysis = experiment.Frequentist{}
			}

			return withService(func(svc *service.Service) error {
				e, err := svc.CreateExperiment(context.Background(), req)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created %s experiment '%s' (%s) with %d variants:\n", e.Mode(), e.Name, e.ID, len(e.Variants))
				for i, v := range e.Variants {
					fmt.Printf("  %d: %s%s\n", i, v.Label, describeState(v))
				}
				if a, ok := e.Analysis.(experiment.Sequential); ok {
					fmt.Printf("  Checks at %v assignments per variant (alpha %.3g)\n", a.Plan.CheckPoints, a.Plan.Alpha)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant labels, control first (required)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "analysis mode: bayesian, sequential, bandit, frequentist")
	cmd.Flags().StringArrayVar(&priors, "prior", nil, "bayesian prior as label=alpha:beta (repeatable)")
	cmd.Flags().IntVar(&plannedN, "planned-n", 0, "sequential: planned sample size per variant")
	cmd.Flags().IntVar(&checks, "checks", sequential.DefaultNumChecks, "sequential: number of interim checks")
	cmd.Flags().Float64Var(&alpha, "alpha", sequential.DefaultAlpha, "sequential: overall significance level")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(bandit.Thompson), "bandit: thompson, ucb, epsilon_greedy")
	cmd.Flags().Float64Var(&epsilon, "epsilon", bandit.DefaultEpsilon, "bandit: exploration rate for epsilon_greedy")
	cmd.Flags().StringVar(&allocations, "allocations", "", "bandit: comma-separated initial allocations in percent")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func promptMode() (string, error) {
	items := make([]string, len(experiment.Modes))
	for i, m := range experiment.Modes {
		items[i] = string(m)
	}

	prompt := promptui.Select{
		Label: "Which analysis mode should this experiment use?",
		Items: items,
		Size:  len(items),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return items[idx], nil
}

// parsePriors reads label=alpha:beta pairs.
func parsePriors(values []string) (map[string]bayesian.Prior, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]bayesian.Prior, len(values))
	for _, v := range values {
		label, shape, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("invalid prior %q. Example: --prior A=2:8", v)
		}
		a, b, ok := strings.Cut(shape, ":")
		if !ok {
			return nil, fmt.Errorf("invalid prior %q. Example: --prior A=2:8", v)
		}
		alpha, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid prior alpha in %q: %w", v, err)
		}
		beta, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid prior beta in %q: %w", v, err)
		}
		out[strings.TrimSpace(label)] = bayesian.Prior{Alpha: alpha, Beta: beta}
	}
	return out, nil
}

func parseAllocations(s string) ([]float64, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid allocation %q: %w", p, err)
		}
		out[i] = f
	}
	return out, nil
}

func describeState(v experiment.Variant) string {
	switch st := v.State.(type) {
	case experiment.BayesianState:
		return fmt.Sprintf(" (prior Beta(%g, %g))", st.AlphaPrior, st.BetaPrior)
	case experiment.BanditState:
		return fmt.Sprintf(" (allocation %.1f%%)", st.CurrentAllocation)
	}
	return ""
}
