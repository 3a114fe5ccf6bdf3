package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/config"
)

var (
	cfg *config.Config

	dbPath   string
	logLevel string
	seed     uint64
	samples  int
	workers  int
)

var rootCmd = &cobra.Command{
	Use:   "expstat",
	Short: "expstat - experiment statistics for A/B/n tests",
	Long: `expstat decides which variant of an experiment is winning, when it is
safe to stop and how traffic should be split. Experiments run in one of
four modes: bayesian, sequential, bandit or frequentist.

Configuration comes from EXPSTAT_* environment variables (optionally from a
.env file); flags override them.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default $EXPSTAT_DB_PATH or ./expstat.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "random seed for Monte Carlo and bandit selection (0 = clock)")
	rootCmd.PersistentFlags().IntVar(&samples, "samples", 0, "Monte Carlo draws per variant")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "goroutines per Monte Carlo run")
}

// loadConfig merges the environment with any flags set on the command line.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		if c.LogLevel, err = zerolog.ParseLevel(logLevel); err != nil {
			return err
		}
	}
	if flags.Changed("seed") {
		c.Seed = seed
	}
	if flags.Changed("samples") {
		c.MCSamples = samples
	}
	if flags.Changed("workers") {
		c.Workers = workers
	}

	cfg = c
	return nil
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(cfg.LogLevel).
		With().Timestamp().Logger()
}
