package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/service"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their mode and totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withService(func(svc *service.Service) error {
		experiments, err := svc.ListExperiments(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  expstat create hero --variants \"A,B\" --mode bayesian")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODE\tVARIANTS\tASSIGNMENTS\tCONVERSIONS\tCREATED")

		for _, e := range experiments {
			totalAssignments := 0
			totalConversions := 0
			for _, v := range e.Variants {
				totalAssignments += v.Assignments
				totalConversions += v.Conversions
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				e.Name,
				e.Mode(),
				len(e.Variants),
				formatNumber(totalAssignments),
				formatNumber(totalConversions),
				e.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
