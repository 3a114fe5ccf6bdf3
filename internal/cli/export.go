package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/service"
)

var (
	exportFormat    string
	exportSnapshots bool
)

var exportCmd = &cobra.Command{
	Use:   "export <experiment>",
	Short: "Export variant counts and snapshots",
	Long: `Export variant counts in CSV or JSON format. JSON also carries the
sequential check log or bandit regret history; in CSV pass --snapshots to
export those instead of the counts.

Examples:
  expstat export hero --format csv > hero-counts.csv
  expstat export checkout --format csv --snapshots > checkout-checks.csv
  expstat export banner --format json > banner.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	exportCmd.Flags().BoolVar(&exportSnapshots, "snapshots", false, "csv: export interim checks or regret snapshots")
	rootCmd.AddCommand(exportCmd)
}

type jsonExport struct {
	Experiment string                  `json:"experiment"`
	Mode       experiment.Mode         `json:"mode"`
	Variants   []jsonVariant           `json:"variants"`
	Checks     []sequential.Snapshot   `json:"checks,omitempty"`
	Regret     []bandit.RegretSnapshot `json:"regret,omitempty"`
}

type jsonVariant struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Assignments int    `json:"assignments"`
	Conversions int    `json:"conversions"`
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withService(func(svc *service.Service) error {
		ctx := context.Background()

		e, err := svc.GetExperiment(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		export := jsonExport{
			Experiment: e.Name,
			Mode:       e.Mode(),
			Variants:   make([]jsonVariant, len(e.Variants)),
		}
		for i, v := range e.Variants {
			export.Variants[i] = jsonVariant{
				ID:          v.ID,
				Label:       v.Label,
				Assignments: v.Assignments,
				Conversions: v.Conversions,
			}
		}

		switch e.Mode() {
		case experiment.ModeSequential:
			r, err := svc.SequentialReport(ctx, e.ID)
			if err != nil {
				return fmt.Errorf("failed to get checks: %w", err)
			}
			export.Checks = r.History
		case experiment.ModeBandit:
			r, err := svc.BanditResults(ctx, e.ID)
			if err != nil {
				return fmt.Errorf("failed to get regret history: %w", err)
			}
			export.Regret = r.RegretHistory
		}

		w := cmd.OutOrStdout()
		if exportFormat == "json" {
			return printJSON(w, export)
		}
		if !exportSnapshots {
			return exportCounts(w, export.Variants)
		}
		switch e.Mode() {
		case experiment.ModeSequential:
			return exportChecks(w, export.Checks)
		case experiment.ModeBandit:
			return exportRegret(w, export.Regret)
		}
		return fmt.Errorf("%s experiments have no snapshots", e.Mode())
	})
}

func exportCounts(out io.Writer, variants []jsonVariant) error {
	w := csv.NewWriter(out)

	// Write header
	if err := w.Write([]string{"variant_id", "label", "assignments", "conversions"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, v := range variants {
		row := []string{
			v.ID,
			v.Label,
			strconv.Itoa(v.Assignments),
			strconv.Itoa(v.Conversions),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func exportChecks(out io.Writer, checks []sequential.Snapshot) error {
	w := csv.NewWriter(out)

	header := []string{"timestamp", "check", "total_n", "control_n", "treatment_n",
		"information_fraction", "z", "upper", "lower", "alpha_spent", "decision"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, s := range checks {
		row := []string{
			s.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(s.CheckNumber),
			strconv.Itoa(s.TotalN),
			strconv.Itoa(s.ControlN),
			strconv.Itoa(s.TreatmentN),
			formatFloat(s.InformationFraction),
			formatFloat(s.ZStatistic),
			formatFloat(s.Upper),
			formatFloat(s.Lower),
			formatFloat(s.AlphaSpent),
			string(s.Decision),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func exportRegret(out io.Writer, history []bandit.RegretSnapshot) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "total_pulls", "regret"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, s := range history {
		row := []string{
			s.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(s.TotalPulls),
			formatFloat(s.Regret),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
