package main

import (
	"os"

	"github.com/pathforge/pathforge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
