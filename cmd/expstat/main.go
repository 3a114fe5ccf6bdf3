package main

import (
	"os"

	"github.com/expstat/expstat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
