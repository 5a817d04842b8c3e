// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/client"
)

func statCmd() *cobra.Command {
	var (
		dataDir  string
		gamePort int
		juryPort int
	)

	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Probe both resident daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := config.DefaultParameters()
			params.DataDir = dataDir
			params.GamePort = gamePort
			params.JuryPort = juryPort

			logger := log.NewNoOpLogger()
			for _, role := range []inference.Role{inference.RoleGame, inference.RoleJury} {
				state, resp := client.New(role, params, logger).Ping()
				fmt.Printf("%s: %s", role, state)
				if resp.Error != "" {
					fmt.Printf(" (%s)", resp.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory holding the pid sentinels")
	cmd.Flags().IntVar(&gamePort, "game-port", 8085, "game daemon port")
	cmd.Flags().IntVar(&juryPort, "jury-port", 8086, "jury daemon port")
	return cmd
}
