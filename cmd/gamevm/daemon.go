// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/daemon"
	"github.com/luxfi/gamevm/inference/llama"
)

func daemonCmd() *cobra.Command {
	var (
		role     string
		dataDir  string
		gamePort int
		juryPort int
		llamaURL string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a resident inference daemon",
		Long: `Runs one inference daemon. The socket binds immediately and answers
ping while the model loads in the background; the process is expected to
outlive contract rounds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := inference.Role(role)
			if r != inference.RoleGame && r != inference.RoleJury {
				return fmt.Errorf("unknown role %q", role)
			}

			params := config.DefaultParameters()
			params.DataDir = dataDir
			params.GamePort = gamePort
			params.JuryPort = juryPort
			if err := params.Verify(); err != nil {
				return err
			}

			logger, err := log.NewFactory().Make("gamevm-daemon")
			if err != nil {
				return err
			}
			model := llama.New(llamaURL, logger)

			d, err := daemon.New(r, model, params, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			d.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(inference.RoleGame), "daemon role: game or jury")
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory for pid sentinels and game data")
	cmd.Flags().IntVar(&gamePort, "game-port", 8085, "game daemon port")
	cmd.Flags().IntVar(&juryPort, "jury-port", 8086, "jury daemon port")
	cmd.Flags().StringVar(&llamaURL, "llama-url", "http://127.0.0.1:8080", "llama.cpp server endpoint")
	return cmd
}
