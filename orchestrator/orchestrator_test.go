// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/core/coretest"
	"github.com/luxfi/gamevm/gamestate"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/client"
	"github.com/luxfi/gamevm/jury"
	"github.com/luxfi/gamevm/nft"
	"github.com/luxfi/gamevm/orchestrator"
)

const preState = `Player_Location: entrance
Player_Health: 100
Player_Score: 0
Player_Inventory: [torch]
Game_Status: active
Messages: ["You stand at the entrance."]
Turn_Count: 1`

const tunnelBlock = `Player_Location: tunnel
Player_Health: 95
Player_Score: 10
Player_Inventory: [torch]
Game_Status: active
Messages: ["You move north into the tunnel."]
Turn_Count: 2`

const wonBlock = `Player_Location: throne room
Player_Health: 80
Player_Score: 1000
Player_Inventory: [torch, crown]
Game_Status: won
Messages: ["The crown is yours."]
Turn_Count: 9`

const creationNarrative = `Game Title: The Cave of Echoes
World Description: A network of damp limestone caverns.
Game Rules: Darkness is lethal.
Current Situation: You wake up at the cave entrance.
Location: entrance`

// fakeGame is a scriptable orchestrator.GameClient.
type fakeGame struct {
	state    client.PingState
	createFn func(prompt string) (string, error)
	actionFn func(gameID, action, oldState, world string, cont bool) (string, error)
}

func (f *fakeGame) Ping() (client.PingState, inference.PingResponse) {
	return f.state, inference.PingResponse{}
}

func (f *fakeGame) CreateGame(prompt string) (string, error) {
	if f.createFn == nil {
		return creationNarrative, nil
	}
	return f.createFn(prompt)
}

func (f *fakeGame) PlayerAction(gameID, action, oldState, world string, cont bool) (string, error) {
	if f.actionFn == nil {
		return "", errors.New("no action scripted")
	}
	return f.actionFn(gameID, action, oldState, world, cont)
}

type engineFunc func(ctx context.Context, statement string) (jury.Decision, error)

func (f engineFunc) Decide(ctx context.Context, statement string) (jury.Decision, error) {
	return f(ctx, statement)
}

func approveAll(context.Context, string) (jury.Decision, error) {
	return jury.Decision{IsValid: true, Confidence: 0.9, Reason: "AI validation: approved"}, nil
}

type env struct {
	params  config.Parameters
	store   *gamestate.Store
	trigger *nft.Trigger
	game    *fakeGame
	orch    *orchestrator.Orchestrator
}

func newEnv(t *testing.T, peerCount int, engine jury.DecisionEngine, minter *nft.Minter) *env {
	t.Helper()

	params := config.LocalParameters()
	params.PeerCount = peerCount
	params.DataDir = t.TempDir()
	params.VotePollInterval = 2 * time.Millisecond

	store, err := gamestate.NewStore(params.DataDir, log.NewNoOpLogger())
	require.NoError(t, err)
	trigger, err := nft.NewTrigger(params.DataDir, log.NewNoOpLogger())
	require.NoError(t, err)

	game := &fakeGame{state: client.Running}
	orch := orchestrator.New(orchestrator.Config{
		Params:  params,
		Log:     log.NewNoOpLogger(),
		Store:   store,
		Game:    game,
		Trigger: trigger,
		Minter:  minter,
	})

	j, err := jury.New(jury.Config{
		NodeID:       ids.GenerateTestNodeID(),
		Engine:       engine,
		Fallback:     jury.Decision{IsValid: true, Confidence: 0.1, Reason: "AI not ready"},
		PollInterval: params.VotePollInterval,
		Log:          log.NewNoOpLogger(),
		Registry:     prometheus.NewRegistry(),
		OnResolve:    orch.OnConsensus,
	})
	require.NoError(t, err)
	orch.AttachJury(j)

	return &env{
		params:  params,
		store:   store,
		trigger: trigger,
		game:    game,
		orch:    orch,
	}
}

// echoPeers synthesizes n peer votes mirroring every broadcast request,
// each voting valid or not. Duplicated deliveries exercise idempotence.
func echoPeers(t *testing.T, round *coretest.Round, n int, valid bool, duplicates int) {
	t.Helper()
	round.OnBroadcast = func(raw []byte) {
		local, ok := jury.ParseVote(raw)
		require.True(t, ok)
		for i := 0; i < n; i++ {
			peer := jury.Vote{
				RequestID:  local.RequestID,
				IsValid:    valid,
				Confidence: 0.8,
				JuryID:     ids.GenerateTestNodeID(),
				Context:    local.Context,
			}
			payload, err := peer.Bytes()
			require.NoError(t, err)
			for d := 0; d <= duplicates; d++ {
				round.Deliver(payload)
			}
		}
	}
}

func lastReply(t *testing.T, round *coretest.Round, user string) map[string]any {
	t.Helper()
	replies := round.Replies(user)
	require.NotEmpty(t, replies)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(replies[len(replies)-1], &decoded))
	return decoded
}

func TestCreationPath(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte(`{"create_game":"cave survival"}`))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("gameCreated", reply["type"])
	require.Equal("success", reply["status"])
	gameID := reply["game_id"].(string)
	require.NotEmpty(gameID)

	// Both blobs exist; the state carries the situation section.
	world, err := e.store.World(gameID)
	require.NoError(err)
	require.Contains(world, "Game Title:")
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Contains(state, "Current Situation:")

	// Replays with the same inputs derive the same id on every replica.
	other := newEnv(t, 1, engineFunc(approveAll), nil)
	otherRound := coretest.NewRound(false)
	otherRound.AddUser("alice", []byte(`{"create_game":"cave survival"}`))
	other.orch.ExecuteRound(context.Background(), otherRound)
	require.Equal(gameID, lastReply(t, otherRound, "alice")["game_id"])
}

func TestCreationSynthesizesDefaultState(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	e.game.createFn = func(string) (string, error) {
		return "Game Title: Emptiness\nWorld Description: nothing here", nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte(`{"create_game":"emptiness"}`))
	e.orch.ExecuteRound(context.Background(), round)

	gameID := lastReply(t, round, "alice")["game_id"].(string)
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(gamestate.DefaultState, state)
}

// seedGame installs a game directly so action tests control the pre-state.
func seedGame(t *testing.T, e *env) string {
	t.Helper()
	gameID := "testgame"
	_, _, err := e.store.CreateGame(gameID, creationNarrative)
	require.NoError(t, err)
	require.NoError(t, e.store.SaveState(gameID, preState))
	return gameID
}

func playerActionMsg(gameID string) []byte {
	return []byte(`{"game_id":"` + gameID + `","action":"move north","continue_conversation":"false"}`)
}

func TestValidAction(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 3, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return "narrative\n" + inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	round := coretest.NewRound(false)
	echoPeers(t, round, 2, true, 0)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("consensus", reply["type"])
	require.Equal("valid", reply["decision"])
	require.Equal("success", reply["action_result"])
	require.Equal(tunnelBlock, reply["game_state"])
	require.Equal("move north", reply["player_action"])

	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(tunnelBlock, state)
}

func TestInvalidActionReverts(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 3, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	// Local votes valid, both peers vote invalid: majority invalid.
	round := coretest.NewRound(false)
	echoPeers(t, round, 2, false, 0)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("invalid", reply["decision"])
	require.Equal("failed", reply["action_result"])
	require.Equal(preState, reply["game_state"])

	// Byte-for-byte revert.
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestWinTrigger(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 3, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\n" + wonBlock + "\n" + inference.EndStateMarker, nil
	}

	round := coretest.NewRound(false)
	echoPeers(t, round, 2, true, 0)
	round.AddUser("alice", []byte(`{"game_id":"`+gameID+`","action":"wear the crown","continue_conversation":"false"}`))
	e.orch.ExecuteRound(context.Background(), round)

	require.Equal("success", lastReply(t, round, "alice")["action_result"])

	record, err := e.trigger.Read(gameID)
	require.NoError(err)
	require.Equal(nft.StatusWon, record.Status)
	require.Equal(1000, record.FinalScore)
	require.Equal("[torch, crown]", record.PlayerInventory)
	require.Equal("wear the crown", record.WinningAction)

	// get_game_state reflects the winning state.
	readRound := coretest.NewRound(true)
	readRound.AddUser("alice", []byte(`{"get_game_state":"`+gameID+`"}`))
	e.orch.ExecuteRound(context.Background(), readRound)
	require.Equal(wonBlock, lastReply(t, readRound, "alice")["state"])
}

func TestActionWhileModelLoading(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)
	e.game.state = client.Loading

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("error", reply["type"])
	require.Contains(reply["error"], "still loading")

	// Nothing was mutated.
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestDuplicateVotesDoNotSkewConsensus(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 3, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	// Each peer vote is delivered three times; the tally counts each
	// juror once and the outcome matches single delivery.
	round := coretest.NewRound(false)
	echoPeers(t, round, 2, true, 2)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("valid", reply["decision"])
	details := reply["details"].(map[string]any)
	require.Equal(float64(3), details["received"])
}

func TestUnresolvedRequestRevertsAndDropsReply(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 3, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	// No peer ever votes and the round budget expires.
	round := coretest.NewRound(false)
	round.SetDeadline(time.Now().Add(50 * time.Millisecond))
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	require.Empty(round.Replies("alice"))

	// The tentative write was rolled back for the next round.
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestMalformedRatifiedTransitionRejected(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	// Markers present but the block is missing required headers: even a
	// unanimous valid vote is rejected retroactively.
	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\nPlayer_Location: void\n" + inference.EndStateMarker, nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("valid", reply["decision"])
	require.Equal("failed", reply["action_result"])

	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestMarkerlessOutputTreatedAsMalformed(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return "You can't do that here.", nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	require.Equal("failed", lastReply(t, round, "alice")["action_result"])
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestInferenceErrorProposesOldState(t *testing.T) {
	require := require.New(t)

	// The validator rejects the no-op transition; the old state stays.
	rejecting := engineFunc(func(context.Context, string) (jury.Decision, error) {
		return jury.Decision{IsValid: false, Confidence: 0.9, Reason: "AI validation: rejected"}, nil
	})
	e := newEnv(t, 1, rejecting, nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return "error: model exploded", nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("failed", reply["action_result"])
	state, err := e.store.State(gameID)
	require.NoError(err)
	require.Equal(preState, state)
}

func TestReadOnlyGuards(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	round := coretest.NewRound(true)
	round.AddUser("alice",
		[]byte(`{"create_game":"nope"}`),
		playerActionMsg(gameID),
		[]byte(`{"list_games":true}`),
		[]byte(`{"type":"stat"}`),
	)
	e.orch.ExecuteRound(context.Background(), round)

	replies := round.Replies("alice")
	require.Len(replies, 4)

	var first, second map[string]any
	require.NoError(json.Unmarshal(replies[0], &first))
	require.NoError(json.Unmarshal(replies[1], &second))
	require.Equal("error", first["type"])
	require.Equal("error", second["type"])

	// Reads still work.
	var list, stats map[string]any
	require.NoError(json.Unmarshal(replies[2], &list))
	require.NoError(json.Unmarshal(replies[3], &stats))
	require.Equal("gamesList", list["type"])
	require.Equal("stats", stats["type"])
	require.Equal(float64(1), stats["total_games"])
}

func TestLegacyColonForm(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, action, _, _ string, cont bool) (string, error) {
		require.Equal("move north", action)
		require.True(cont)
		return inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte(gameID+":move north:true"))
	e.orch.ExecuteRound(context.Background(), round)

	require.Equal("success", lastReply(t, round, "alice")["action_result"])
}

func TestMalformedInputRepliesError(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte("!!!"))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("error", reply["type"])
	require.Equal("!!!", reply["received"])
}

func TestMintRefusedInConsensusRound(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte(`{"mint_nft":"g1"}`))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("nft_mint_result", reply["type"])
	require.Equal(false, reply["success"])
	require.Equal(false, reply["readonly_mode"])
}

func TestMintInReadonlyRound(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"tx_hash":"FEED","nft_tokens":["tok-1"]}`))
	}))
	defer srv.Close()

	t.Setenv(nft.WalletSeedEnv, "sEdSeed")
	minter, err := nft.NewMinter(srv.URL, log.NewNoOpLogger())
	require.NoError(err)

	e := newEnv(t, 1, engineFunc(approveAll), minter)

	// A recorded win to mint.
	_, err = e.trigger.OnWin("g1", "wear the crown", wonBlock)
	require.NoError(err)

	round := coretest.NewRound(true)
	round.AddUser("alice", []byte(`{"mint_nft":"g1"}`))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal(true, reply["success"])
	require.Equal(true, reply["readonly_mode"])
	require.Equal("FEED", reply["tx_hash"])

	record, err := e.trigger.Read("g1")
	require.NoError(err)
	require.Equal(nft.StatusMinted, record.Status)
	require.Equal("FEED", record.MintTxHash)
}

func TestMintWithoutRecord(t *testing.T) {
	require := require.New(t)

	t.Setenv(nft.WalletSeedEnv, "sEdSeed")
	minter, err := nft.NewMinter("http://127.0.0.1:1/mint", log.NewNoOpLogger())
	require.NoError(err)

	e := newEnv(t, 1, engineFunc(approveAll), minter)

	round := coretest.NewRound(true)
	round.AddUser("alice", []byte(`{"mint_nft":"unknown"}`))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal(false, reply["success"])
	require.Contains(reply["error"], "no nft record")
}

func TestStatAndList(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)
	seedGame(t, e)

	round := coretest.NewRound(false)
	round.AddUser("alice", []byte(`{"type":"stat"}`), []byte(`{"list_games":true}`))
	e.orch.ExecuteRound(context.Background(), round)

	replies := round.Replies("alice")
	require.Len(replies, 2)

	var stats map[string]any
	require.NoError(json.Unmarshal(replies[0], &stats))
	require.Equal("stats", stats["type"])
	require.Equal(true, stats["model_ready"])
	require.Equal("running", stats["daemon_status"])

	var list map[string]any
	require.NoError(json.Unmarshal(replies[1], &list))
	require.Equal([]any{"testgame"}, list["games"])
}

func TestFallbackVoteResolvesSingleNode(t *testing.T) {
	require := require.New(t)

	// Validator daemon down: engine errors, fallback vote carries the
	// request through.
	broken := engineFunc(func(context.Context, string) (jury.Decision, error) {
		return jury.Decision{}, errors.New("connect: connection refused")
	})
	e := newEnv(t, 1, broken, nil)
	gameID := seedGame(t, e)

	e.game.actionFn = func(_, _, _, _ string, _ bool) (string, error) {
		return inference.BeginStateMarker + "\n" + tunnelBlock + "\n" + inference.EndStateMarker, nil
	}

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg(gameID))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("valid", reply["decision"])
	require.Equal("success", reply["action_result"])
	require.InDelta(0.1, reply["confidence"], 1e-9)
}

func TestGameNotFound(t *testing.T) {
	require := require.New(t)
	e := newEnv(t, 1, engineFunc(approveAll), nil)

	round := coretest.NewRound(false)
	round.AddUser("alice", playerActionMsg("missing"))
	e.orch.ExecuteRound(context.Background(), round)

	reply := lastReply(t, round, "alice")
	require.Equal("error", reply["type"])
	require.Contains(reply["error"], "game not found")

	// No files appeared.
	entries, err := os.ReadDir(e.params.DataDir + "/game_data")
	require.NoError(err)
	require.Empty(entries)
}
