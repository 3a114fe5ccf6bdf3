package cli

import (
	"github.com/spf13/cobra"

	"github.com/expstat/expstat/internal/server"
)

var (
	servePort  int
	serveToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API",
	Long: `Start an HTTP server that accepts assignments, outcomes and bandit
selections and serves results. API requests need the token as a Bearer
header or token query param; without --token one is generated.

Examples:
  expstat serve --port 8080
  curl -H "Authorization: Bearer $TOKEN" localhost:8080/api/experiments/hero/results`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to listen on")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "API token (default $EXPSTAT_API_TOKEN or generated)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, s, err := openService()
	if err != nil {
		return err
	}
	defer s.Close()

	token := serveToken
	if token == "" {
		token = cfg.APIToken
	}

	srv := server.New(svc, s, servePort, token, newLogger())
	return srv.Start()
}
