// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/core"
	"github.com/luxfi/gamevm/gamestate"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/client"
	"github.com/luxfi/gamevm/inference/supervisor"
	"github.com/luxfi/gamevm/jury"
	"github.com/luxfi/gamevm/nft"
	"github.com/luxfi/gamevm/orchestrator"
)

// memRound is a single-node core.RoundContext for local development: user
// inputs from stdin, replies on stdout, no peers on the NPL channel.
type memRound struct {
	readonly bool
	users    []core.UserInput
	deadline time.Time
}

func (r *memRound) Readonly() bool          { return r.readonly }
func (r *memRound) Users() []core.UserInput { return r.users }
func (r *memRound) Receive() [][]byte       { return nil }
func (r *memRound) Deadline() time.Time     { return r.deadline }

func (r *memRound) Reply(user string, payload []byte) error {
	fmt.Printf("%s <- %s\n", user, payload)
	return nil
}

func (r *memRound) Broadcast(payload []byte) error {
	// No peers in the development host; the local vote alone resolves.
	return nil
}

// localNodeID derives a stable jury identity for this machine.
func localNodeID() (ids.NodeID, error) {
	host, err := os.Hostname()
	if err != nil {
		return ids.NodeID{}, err
	}
	digest := sha256.Sum256([]byte("gamevm-jury-" + host))
	return ids.ToNodeID(digest[:20])
}

type roundInput struct {
	User    string          `json:"user"`
	Message json.RawMessage `json:"message"`
}

func roundCmd() *cobra.Command {
	var (
		dataDir      string
		gamePort     int
		juryPort     int
		readonly     bool
		budget       time.Duration
		daemonBinary string
	)

	cmd := &cobra.Command{
		Use:   "round",
		Short: "Execute one development round from stdin",
		Long: `Reads round inputs as JSON lines ({"user":"alice","message":{...}})
from stdin and executes a single-node contract round against them,
printing every reply. Intended for local development; the production
round loop belongs to the contract host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := config.LocalParameters()
			params.DataDir = dataDir
			params.GamePort = gamePort
			params.JuryPort = juryPort
			if err := params.Verify(); err != nil {
				return err
			}

			logger, err := log.NewFactory().Make("gamevm-round")
			if err != nil {
				return err
			}

			if daemonBinary != "" && !readonly {
				sup := supervisor.New(dataDir, logger)
				for _, role := range []inference.Role{inference.RoleGame, inference.RoleJury} {
					if _, _, err := sup.Ensure(supervisor.Command{
						Role:   role,
						Binary: daemonBinary,
						Args:   []string{"daemon", "--role", string(role), "--data-dir", dataDir},
					}); err != nil {
						return fmt.Errorf("failed to ensure %s daemon: %w", role, err)
					}
				}
			}

			store, err := gamestate.NewStore(dataDir, logger)
			if err != nil {
				return err
			}
			trigger, err := nft.NewTrigger(dataDir, logger)
			if err != nil {
				return err
			}
			var minter *nft.Minter
			if m, err := nft.NewMinter("", logger); err == nil {
				minter = m
			}

			gameCli := client.New(inference.RoleGame, params, logger)
			juryCli := client.New(inference.RoleJury, params, logger)

			orch := orchestrator.New(orchestrator.Config{
				Params:  params,
				Log:     logger,
				Store:   store,
				Game:    gameCli,
				JuryCli: juryCli,
				Trigger: trigger,
				Minter:  minter,
			})
			nodeID, err := localNodeID()
			if err != nil {
				return err
			}
			j, err := jury.New(jury.Config{
				NodeID: nodeID,
				Engine: jury.NewDaemonEngine(juryCli, logger),
				Fallback: jury.Decision{
					IsValid:    params.FallbackValid,
					Confidence: params.FallbackConfidence,
					Reason:     "AI not ready",
				},
				PollInterval: params.VotePollInterval,
				Log:          logger,
				Registry:     prometheus.NewRegistry(),
				OnResolve:    orch.OnConsensus,
			})
			if err != nil {
				return err
			}
			orch.AttachJury(j)

			round := &memRound{
				readonly: readonly,
				deadline: time.Now().Add(budget),
			}
			byUser := make(map[string]int)
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				var input roundInput
				if err := json.Unmarshal(scanner.Bytes(), &input); err != nil {
					return fmt.Errorf("malformed round input: %w", err)
				}
				idx, seen := byUser[input.User]
				if !seen {
					round.users = append(round.users, core.UserInput{User: input.User})
					idx = len(round.users) - 1
					byUser[input.User] = idx
				}
				round.users[idx].Messages = append(round.users[idx].Messages, input.Message)
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			orch.ExecuteRound(context.Background(), round)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory for game data and pid sentinels")
	cmd.Flags().IntVar(&gamePort, "game-port", 8085, "game daemon port")
	cmd.Flags().IntVar(&juryPort, "jury-port", 8086, "jury daemon port")
	cmd.Flags().BoolVar(&readonly, "readonly", false, "execute a readonly round")
	cmd.Flags().DurationVar(&budget, "budget", 4*time.Minute, "round wall-clock budget")
	cmd.Flags().StringVar(&daemonBinary, "daemon-binary", "", "spawn daemons with this binary before the round")
	return cmd
}
