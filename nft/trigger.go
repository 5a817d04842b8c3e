// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package nft records terminal wins and mints them through the external
// signing service. Metadata extraction happens on the win transition in any
// round; minting is restricted to readonly rounds, because replicas signing
// independently would diverge and double-spend signer nonces.
package nft

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/gamestate"
)

var (
	ErrNotWon        = errors.New("state is not a winning state")
	ErrRecordMissing = errors.New("no nft record for game")
)

// Statuses a record moves through.
const (
	StatusWon    = "won"
	StatusMinted = "minted"
)

// Record is the metadata JSON persisted beside the game files.
type Record struct {
	GameID          string   `json:"gameId"`
	CompletionTime  string   `json:"completion_time"`
	WinningAction   string   `json:"winning_action"`
	Status          string   `json:"status"`
	FinalLocation   string   `json:"final_location"`
	FinalHealth     int      `json:"final_health"`
	FinalScore      int      `json:"final_score"`
	PlayerInventory string   `json:"player_inventory"`
	MintTimestamp   string   `json:"mint_timestamp,omitempty"`
	MintTxHash      string   `json:"mint_tx_hash,omitempty"`
	NFTTokens       []string `json:"nft_tokens,omitempty"`
}

// Trigger writes and reads records under dataDir/game_data.
type Trigger struct {
	dir string
	log log.Logger
	now func() time.Time
}

// NewTrigger creates a trigger storing records beside the game blobs.
func NewTrigger(dataDir string, logger log.Logger) (*Trigger, error) {
	dir := filepath.Join(dataDir, "game_data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create nft dir: %w", err)
	}
	return &Trigger{
		dir: dir,
		log: logger,
		now: time.Now,
	}, nil
}

// RecordPath returns the metadata path for a game.
func (t *Trigger) RecordPath(gameID string) string {
	return filepath.Join(t.dir, "nft_"+gameID+".json")
}

// OnWin extracts inventory and final stats from the winning state and
// persists the record with status "won".
func (t *Trigger) OnWin(gameID, winningAction, stateText string) (*Record, error) {
	state, err := gamestate.ParseState(stateText)
	if err != nil {
		return nil, err
	}
	if state.Status != gamestate.StatusWon {
		return nil, ErrNotWon
	}

	record := &Record{
		GameID:          gameID,
		CompletionTime:  t.now().UTC().Format(time.RFC3339),
		WinningAction:   winningAction,
		Status:          StatusWon,
		FinalLocation:   state.Location,
		FinalHealth:     state.Health,
		FinalScore:      state.Score,
		PlayerInventory: state.Inventory,
	}
	if err := t.write(record); err != nil {
		return nil, err
	}

	t.log.Info("game won, nft record created",
		"game", gameID,
		"score", state.Score,
		"action", winningAction,
	)
	return record, nil
}

// Read loads a previously written record.
func (t *Trigger) Read(gameID string) (*Record, error) {
	raw, err := os.ReadFile(t.RecordPath(gameID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordMissing, gameID)
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt nft record: %w", err)
	}
	return &record, nil
}

// Update rewrites an existing record, e.g. after a successful mint.
func (t *Trigger) Update(record *Record) error {
	return t.write(record)
}

func (t *Trigger) write(record *Record) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.RecordPath(record.GameID), raw, 0o644)
}
