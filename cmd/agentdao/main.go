package main

import (
	"os"

	"github.com/ILLUVRSE/agentdao/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
