// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/gamevm/model"
)

func provisionCmd() *cobra.Command {
	var (
		manifestPath string
		modelDir     string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Advance the model download by one chunk",
		Long: `Runs one provisioning step: at most one ranged fetch, then a hash
check once the blob is size-complete. Run it repeatedly (the host does,
once per round) until it reports complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}
			var manifest model.Manifest
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return fmt.Errorf("malformed manifest: %w", err)
			}

			logger, err := log.NewFactory().Make("gamevm-provision")
			if err != nil {
				return err
			}

			p, err := model.NewProvisioner(modelDir, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			status := p.EnsureAvailable(context.Background(), manifest)
			switch status.Kind {
			case model.Complete:
				fmt.Println("complete")
			case model.Partial:
				fmt.Printf("partial %.1f%%\n", status.Progress*100)
			case model.Failed:
				return fmt.Errorf("provisioning failed: %s", status.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "model.json", "path to the model manifest JSON")
	cmd.Flags().StringVar(&modelDir, "model-dir", "model", "directory holding the model blob")
	return cmd
}
