// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gamestate persists each game as two UTF-8 text blobs: an
// immutable world and a per-turn state. Creation writes whatever the local
// model returned. A player action saves its state tentatively before the
// jury votes and is reverted if the transition is rejected, so at the end of
// a round the state blob holds the last ratified transition.
package gamestate

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

const (
	gameDataDir = "game_data"
	worldPrefix = "game_world_"
	statePrefix = "game_state_"
)

// DefaultState is written when creation output yields no state content.
const DefaultState = `Current Situation: Your adventure begins.
Location: unknown
Starting Status: healthy`

// Store owns the game_data directory.
type Store struct {
	dir string
	log log.Logger
}

// NewStore creates game_data under dataDir if needed.
func NewStore(dataDir string, logger log.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, gameDataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create game data dir: %w", err)
	}
	return &Store{dir: dir, log: logger}, nil
}

// WorldPath returns the world blob path for a game.
func (s *Store) WorldPath(gameID string) string {
	return filepath.Join(s.dir, worldPrefix+gameID+".txt")
}

// StatePath returns the state blob path for a game.
func (s *Store) StatePath(gameID string) string {
	return filepath.Join(s.dir, statePrefix+gameID+".txt")
}

// NewGameID derives the deterministic game identifier from the creation
// prompt, the requesting user and the number of games already on this
// node. All three inputs are host-ordered identically on every replica, so
// the id is too.
func (s *Store) NewGameID(prompt, user string) (string, error) {
	games, err := s.ListGames()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%d", prompt, user, len(games)))
	id, err := ids.ToID(digest[:])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateGame partitions the creation narrative into world and state and
// writes both blobs. The world is immutable afterwards.
func (s *Store) CreateGame(gameID, narrative string) (string, string, error) {
	world, state := Partition(narrative)
	if strings.TrimSpace(state) == "" {
		state = DefaultState
	}

	if err := writeFileAtomic(s.WorldPath(gameID), world); err != nil {
		return "", "", fmt.Errorf("failed to write world: %w", err)
	}
	if err := writeFileAtomic(s.StatePath(gameID), state); err != nil {
		return "", "", fmt.Errorf("failed to write state: %w", err)
	}

	s.log.Info("game created",
		"game", gameID,
		"worldBytes", len(world),
		"stateBytes", len(state),
	)
	return world, state, nil
}

// World reads the immutable world blob.
func (s *Store) World(gameID string) (string, error) {
	raw, err := os.ReadFile(s.WorldPath(gameID))
	return string(raw), err
}

// State reads the current state blob.
func (s *Store) State(gameID string) (string, error) {
	raw, err := os.ReadFile(s.StatePath(gameID))
	return string(raw), err
}

// SaveState overwrites the state blob. The write is atomic so a crashed
// round never leaves a torn state on disk.
func (s *Store) SaveState(gameID, text string) error {
	return writeFileAtomic(s.StatePath(gameID), text)
}

// Revert restores oldState after a transition the jury rejected.
func (s *Store) Revert(gameID, oldState string) error {
	s.log.Debug("reverting state", "game", gameID)
	return s.SaveState(gameID, oldState)
}

// ListGames enumerates game ids by their world blobs.
func (s *Store) ListGames() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, worldPrefix+"*.txt"))
	if err != nil {
		return nil, err
	}
	games := make([]string, 0, len(matches))
	for _, match := range matches {
		base := filepath.Base(match)
		games = append(games, strings.TrimSuffix(strings.TrimPrefix(base, worldPrefix), ".txt"))
	}
	return games, nil
}

func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
