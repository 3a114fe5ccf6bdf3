package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/expstat/expstat/internal/service"
	"github.com/expstat/expstat/internal/store"
)

// withService opens the database, builds the service, executes the
// function, and handles cleanup.
func withService(fn func(*service.Service) error) error {
	svc, s, err := openService()
	if err != nil {
		return err
	}
	defer s.Close()

	return friendly(fn(svc))
}

func openService() (*service.Service, *store.SQLiteStore, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log := newLogger()

	svc := service.New(s, rand.NewPCG(seed, seed>>1|1), service.Options{
		Logger:  &log,
		Samples: cfg.MCSamples,
		Workers: cfg.Workers,
	})
	return svc, s, nil
}

// friendly rewrites lookup misses into a short message.
func friendly(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w (run 'expstat list' to see experiments)", err)
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
