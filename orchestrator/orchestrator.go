// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orchestrator is the per-round entry point of the contract. It
// routes client messages, couples the state store to the jury, and emits
// the enriched replies. Rounds are serial: nothing here is called
// concurrently, and every request record lives one round.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/core"
	"github.com/luxfi/gamevm/gamestate"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/client"
	"github.com/luxfi/gamevm/jury"
	"github.com/luxfi/gamevm/model"
	"github.com/luxfi/gamevm/nft"
)

// GameClient is the slice of the inference client the orchestrator uses.
// The production implementation is inference/client.Client.
type GameClient interface {
	Ping() (client.PingState, inference.PingResponse)
	CreateGame(prompt string) (string, error)
	PlayerAction(gameID, action, oldState, world string, continueConversation bool) (string, error)
}

// Orchestrator drives one contract round at a time.
type Orchestrator struct {
	params config.Parameters
	log    log.Logger

	store   *gamestate.Store
	jury    *jury.Jury
	game    GameClient
	juryCli *client.Client
	trigger *nft.Trigger
	minter  *nft.Minter

	provisioner *model.Provisioner
	manifest    model.Manifest

	// Per-round state; rounds are serial so no locking is needed.
	round        core.RoundContext
	requestIndex uint32
	pending      map[ids.ID]*pendingRequest
}

// pendingRequest carries the request record between the jury submission and
// its resolution callback.
type pendingRequest struct {
	user     string
	action   string
	gameID   string
	oldState string
	proposed string
}

// Config wires an Orchestrator.
type Config struct {
	Params config.Parameters
	Log    log.Logger

	Store   *gamestate.Store
	Game    GameClient
	JuryCli *client.Client
	Trigger *nft.Trigger

	// Minter is nil when the wallet seed is not configured; mint_nft then
	// replies with an error.
	Minter *nft.Minter

	// Provisioner and Manifest, when set, advance the model download one
	// chunk at the start of every non-readonly round.
	Provisioner *model.Provisioner
	Manifest    model.Manifest
}

// New builds the orchestrator. The jury is attached afterwards so its
// resolution callback can point back here:
//
//	o := orchestrator.New(cfg)
//	j, err := jury.New(jury.Config{..., OnResolve: o.OnConsensus})
//	o.AttachJury(j)
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		params:      cfg.Params,
		log:         cfg.Log,
		store:       cfg.Store,
		game:        cfg.Game,
		juryCli:     cfg.JuryCli,
		trigger:     cfg.Trigger,
		minter:      cfg.Minter,
		provisioner: cfg.Provisioner,
		manifest:    cfg.Manifest,
		pending:     make(map[ids.ID]*pendingRequest),
	}
}

// AttachJury completes construction.
func (o *Orchestrator) AttachJury(j *jury.Jury) {
	o.jury = j
}

// OnConsensus is the jury resolution callback. It enriches the consensus
// payload with the request record, commits or reverts the tentative state,
// and replies to the user. Wire it into jury.Config.OnResolve.
func (o *Orchestrator) OnConsensus(user, messageType string, res jury.Resolution) {
	record, exists := o.pending[res.RequestID]
	if !exists {
		o.log.Warn("resolution for unknown request", "requestID", res.RequestID)
		return
	}
	delete(o.pending, res.RequestID)

	decision := "invalid"
	if res.Valid {
		decision = "valid"
	}
	reply := consensusReply{
		Type:       "consensus",
		RequestID:  res.RequestID.String(),
		Decision:   decision,
		Confidence: res.Confidence,
		Details: map[string]any{
			"valid_votes":   res.ValidVotes,
			"invalid_votes": res.InvalidVotes,
			"received":      res.Received,
		},
	}

	if messageType != actionPlayer {
		o.reply(record.user, reply)
		return
	}

	committed := o.commitOrRevert(record, res)
	reply.GameID = record.gameID
	reply.PlayerAction = record.action
	if committed {
		reply.ActionResult = "success"
		reply.GameState = record.proposed
	} else {
		reply.ActionResult = "failed"
		reply.GameState = record.oldState
	}
	o.reply(record.user, reply)
}

// commitOrRevert finalizes the tentative write. A transition the jury
// ratified is still rejected retroactively when its state block lacks the
// required headers.
func (o *Orchestrator) commitOrRevert(record *pendingRequest, res jury.Resolution) bool {
	valid := res.Valid
	if valid {
		if err := gamestate.ValidateState(record.proposed); err != nil {
			o.log.Warn("ratified transition malformed, rejecting",
				"game", record.gameID,
				"error", err,
			)
			valid = false
		}
	}

	if !valid {
		if record.proposed != record.oldState {
			if err := o.store.Revert(record.gameID, record.oldState); err != nil {
				o.log.Error("failed to revert state",
					"game", record.gameID,
					"error", err,
				)
			}
		}
		return false
	}

	if gamestate.Won(record.proposed) {
		if _, err := o.trigger.OnWin(record.gameID, record.action, record.proposed); err != nil {
			o.log.Error("failed to record win",
				"game", record.gameID,
				"error", err,
			)
		}
	}
	return true
}

// ExecuteRound processes every user input of the round in host order.
func (o *Orchestrator) ExecuteRound(ctx context.Context, round core.RoundContext) {
	o.round = round
	o.requestIndex = 0
	defer func() {
		o.jury.EndRound()
		o.pending = make(map[ids.ID]*pendingRequest)
		o.round = nil
	}()

	if !round.Readonly() && o.provisioner != nil {
		status := o.provisioner.EnsureAvailable(ctx, o.manifest)
		if status.Kind == model.Failed {
			o.log.Error("model provisioning failed", "reason", status.Reason)
		}
	}

	for _, user := range round.Users() {
		for _, raw := range user.Messages {
			o.handle(user.User, raw)
		}
	}
}

func (o *Orchestrator) handle(user string, raw []byte) {
	m, err := parseClientMessage(raw)
	if err != nil {
		o.reply(user, errorReply{
			Type:     "error",
			Error:    err.Error(),
			Received: truncate(string(raw), 256),
		})
		return
	}

	readonly := o.round.Readonly()
	switch m.Action {
	case actionStat:
		o.handleStat(user)
	case actionList:
		o.handleList(user)
	case actionGetState:
		o.handleGetState(user, m.Data)
	case actionCreate:
		if readonly {
			o.replyError(user, "create_game requires a consensus round")
			return
		}
		o.handleCreate(user, m.Data)
	case actionPlayer:
		if readonly {
			o.replyError(user, "player_action requires a consensus round")
			return
		}
		o.handlePlayerAction(user, m)
	case actionQuery:
		if readonly {
			o.replyError(user, "query requires a consensus round")
			return
		}
		o.handleQuery(user, m.Data)
	case actionMint:
		o.handleMint(user, m.Data, readonly)
	default:
		o.replyError(user, "unsupported action")
	}
}

func (o *Orchestrator) handleStat(user string) {
	gameState, _ := o.game.Ping()
	juryState := client.NotRunning
	if o.juryCli != nil {
		juryState, _ = o.juryCli.Ping()
	}

	games, err := o.store.ListGames()
	if err != nil {
		o.log.Warn("failed to list games", "error", err)
	}

	progress := 1.0
	path := ""
	if o.provisioner != nil {
		progress = o.provisioner.Progress(o.manifest)
		path = o.provisioner.Path(o.manifest)
	}

	o.reply(user, statsReply{
		Type:          "stats",
		ModelProgress: progress,
		ModelPath:     path,
		DaemonStatus:  gameState.String(),
		ModelReady:    gameState == client.Running,
		DaemonDetails: map[string]any{
			"game": gameState.String(),
			"jury": juryState.String(),
		},
		TotalGames: len(games),
	})
}

func (o *Orchestrator) handleList(user string) {
	games, err := o.store.ListGames()
	if err != nil {
		o.replyError(user, "failed to enumerate games: "+err.Error())
		return
	}
	o.reply(user, gamesListReply{Type: "gamesList", Games: games})
}

func (o *Orchestrator) handleGetState(user, gameID string) {
	state, err := o.store.State(gameID)
	if err != nil {
		o.replyError(user, "game not found: "+gameID)
		return
	}
	o.reply(user, gameStateReply{Type: "gameState", GameID: gameID, State: state})
}

// handleCreate tolerates non-deterministic game content: the id is a pure
// function of (prompt, user, prior game count), and the opaque world/state
// blobs are whatever this node's model returned. No jury is involved.
func (o *Orchestrator) handleCreate(user, prompt string) {
	if state, _ := o.game.Ping(); state != client.Running {
		o.replyError(user, "AI model still loading")
		return
	}

	gameID, err := o.store.NewGameID(prompt, user)
	if err != nil {
		o.replyError(user, "failed to derive game id: "+err.Error())
		return
	}

	narrative, err := o.game.CreateGame(prompt)
	if err != nil {
		o.replyError(user, "game generation failed: "+err.Error())
		return
	}

	if _, _, err := o.store.CreateGame(gameID, narrative); err != nil {
		o.replyError(user, "failed to persist game: "+err.Error())
		return
	}
	o.reply(user, gameCreatedReply{Type: "gameCreated", GameID: gameID, Status: "success"})
}

// errorLike detects daemon output that is an error narrative rather than a
// state transition.
func errorLike(output string) bool {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"error:", "failed", "invalid"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) handlePlayerAction(user string, m clientMessage) {
	if state, _ := o.game.Ping(); state != client.Running {
		o.replyError(user, "AI model still loading")
		return
	}

	world, err := o.store.World(m.GameID)
	if err != nil {
		o.replyError(user, "game not found: "+m.GameID)
		return
	}
	oldState, err := o.store.State(m.GameID)
	if err != nil {
		o.replyError(user, "game state missing: "+m.GameID)
		return
	}

	// Propose locally. Generation failures and error narratives keep the
	// old state as the proposal; the jury still votes and stays
	// authoritative.
	proposed := oldState
	output, err := o.game.PlayerAction(m.GameID, m.PlayerAction, oldState, world, m.ContinueConversation)
	switch {
	case err != nil:
		o.log.Warn("inference failed, proposing old state",
			"game", m.GameID,
			"error", err,
		)
	case errorLike(output):
		o.log.Warn("error-like inference output, proposing old state",
			"game", m.GameID,
		)
	default:
		if block, ok := inference.ExtractStateBlock(output); ok {
			proposed = block
		} else {
			// Malformed transition: carried to the jury as-is and
			// rejected retroactively even if ratified.
			proposed = output
		}
	}

	if proposed != oldState {
		if err := o.store.SaveState(m.GameID, proposed); err != nil {
			o.log.Error("tentative save failed", "game", m.GameID, "error", err)
			o.replyError(user, "failed to persist state")
			return
		}
	}

	requestID := o.nextRequestID(user, m.GameID, m.PlayerAction)
	o.pending[requestID] = &pendingRequest{
		user:     user,
		action:   m.PlayerAction,
		gameID:   m.GameID,
		oldState: oldState,
		proposed: proposed,
	}

	voteContext := fmt.Sprintf("GameWorld: %s -> OldState: %s -> PlayerAction: %s -> NewState: %s",
		world, oldState, m.PlayerAction, proposed)

	if err := o.jury.ProcessRequest(context.Background(), user, actionPlayer,
		requestID, o.params.PeerCount, voteContext, o.round.Broadcast); err != nil {
		delete(o.pending, requestID)
		o.replyError(user, "failed to submit jury request: "+err.Error())
		return
	}

	// Resolution invokes OnConsensus, which commits or reverts and sends
	// the enriched reply. An unresolved request at round end is dropped
	// without reply; the tentative write is reverted so the next round
	// starts from the ratified state.
	if _, ok := o.jury.WaitForConsensus(o.round, requestID, o.params.PeerCount); !ok {
		delete(o.pending, requestID)
		if proposed != oldState {
			if err := o.store.Revert(m.GameID, oldState); err != nil {
				o.log.Error("failed to revert abandoned request",
					"game", m.GameID,
					"error", err,
				)
			}
		}
	}
}

func (o *Orchestrator) handleQuery(user, query string) {
	requestID := o.nextRequestID(user, "", query)
	o.pending[requestID] = &pendingRequest{user: user, action: query}

	if err := o.jury.ProcessRequest(context.Background(), user, actionQuery,
		requestID, o.params.PeerCount, query, o.round.Broadcast); err != nil {
		delete(o.pending, requestID)
		o.replyError(user, "failed to submit query: "+err.Error())
		return
	}
	if _, ok := o.jury.WaitForConsensus(o.round, requestID, o.params.PeerCount); !ok {
		delete(o.pending, requestID)
	}
}

// handleMint only runs in readonly rounds: replicas must not sign
// concurrently, and the external signer's nonces must not be double-spent.
func (o *Orchestrator) handleMint(user, gameID string, readonly bool) {
	if !readonly {
		o.reply(user, mintResultReply{
			Type:         "nft_mint_result",
			GameID:       gameID,
			Success:      false,
			ReadonlyMode: false,
			Error:        "minting is only permitted in readonly rounds",
		})
		return
	}
	if o.minter == nil {
		o.reply(user, mintResultReply{
			Type:         "nft_mint_result",
			GameID:       gameID,
			Success:      false,
			ReadonlyMode: true,
			Error:        "minter not configured",
		})
		return
	}

	record, err := o.trigger.Read(gameID)
	if err != nil {
		o.reply(user, mintResultReply{
			Type:         "nft_mint_result",
			GameID:       gameID,
			Success:      false,
			ReadonlyMode: true,
			Error:        err.Error(),
		})
		return
	}

	minted, err := o.minter.Mint(context.Background(), record)
	if err != nil {
		o.reply(user, mintResultReply{
			Type:         "nft_mint_result",
			GameID:       gameID,
			Success:      false,
			ReadonlyMode: true,
			Error:        err.Error(),
		})
		return
	}
	if err := o.trigger.Update(minted); err != nil {
		o.log.Error("failed to persist minted record", "game", gameID, "error", err)
	}

	o.reply(user, mintResultReply{
		Type:         "nft_mint_result",
		GameID:       gameID,
		Success:      true,
		ReadonlyMode: true,
		TxHash:       minted.MintTxHash,
		Tokens:       minted.NFTTokens,
	})
}

// nextRequestID derives a replica-identical request id from the round-local
// request index and the request inputs.
func (o *Orchestrator) nextRequestID(user, gameID, payload string) ids.ID {
	o.requestIndex++
	digest := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s|%s", o.requestIndex, user, gameID, payload))
	id, _ := ids.ToID(digest[:])
	return id
}

func (o *Orchestrator) reply(user string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		o.log.Error("failed to marshal reply", "error", err)
		return
	}
	if err := o.round.Reply(user, raw); err != nil {
		o.log.Warn("failed to reply", "user", user, "error", err)
	}
}

func (o *Orchestrator) replyError(user, message string) {
	o.reply(user, errorReply{Type: "error", Error: message})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
