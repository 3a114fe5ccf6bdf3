package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/service"
)

var selectJSON bool

var selectCmd = &cobra.Command{
	Use:   "select <experiment>",
	Short: "Choose the next bandit arm",
	Long: `Choose the arm to serve next with the experiment's bandit algorithm and
count the pull. Report the outcome later with 'expstat record'.

Examples:
  expstat select banner
  expstat select banner --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func init() {
	selectCmd.Flags().BoolVar(&selectJSON, "json", false, "print the chosen variant as JSON")
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	return withService(func(svc *service.Service) error {
		v, err := svc.SelectArm(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to select arm: %w", err)
		}

		if selectJSON {
			return printJSON(cmd.OutOrStdout(), v)
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.Label)
		return nil
	})
}
