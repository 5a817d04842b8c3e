// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gamevm",
	Short: "AI-validated deterministic game contract tools",
	Long: `The gamevm command runs and inspects the pieces of the game contract
core: the resident inference daemons, the model provisioner, and a local
single-node round driver for development.`,
}

func main() {
	rootCmd.AddCommand(
		daemonCmd(),
		provisionCmd(),
		statCmd(),
		roundCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
