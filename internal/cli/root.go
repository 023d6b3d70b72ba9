// Package cli implements the agentdao commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agentdao",
	Short: "Multi-agent DAO governance simulator",
	Long: "Simulates proposals reviewed, voted on and resolved by three automated agents, " +
		"with a mock on-chain transaction trail and an agent/proposal network graph.",
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
