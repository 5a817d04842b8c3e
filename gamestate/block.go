// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gamestate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the terminal classification of a game.
type Status string

const (
	StatusActive Status = "active"
	StatusWon    Status = "won"
	StatusLost   Status = "lost"
)

// Header lines every committed state block must carry.
const (
	HeaderLocation  = "Player_Location:"
	HeaderHealth    = "Player_Health:"
	HeaderScore     = "Player_Score:"
	HeaderInventory = "Player_Inventory:"
	HeaderStatus    = "Game_Status:"
	HeaderTurnCount = "Turn_Count:"
)

var requiredHeaders = []string{
	HeaderLocation,
	HeaderHealth,
	HeaderScore,
	HeaderInventory,
	HeaderStatus,
	HeaderTurnCount,
}

var ErrMissingHeaders = errors.New("state block missing required headers")

// State is a parsed state block. Inventory is kept raw: the contract never
// interprets item lists, it only carries them.
type State struct {
	Location  string
	Health    int
	Score     int
	Inventory string
	Status    Status
	Messages  []string
	TurnCount int
}

// MissingHeaders returns the required header lines absent from text.
func MissingHeaders(text string) []string {
	var missing []string
	for _, header := range requiredHeaders {
		if !hasHeaderLine(text, header) {
			missing = append(missing, header)
		}
	}
	return missing
}

func hasHeaderLine(text, header string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), header) {
			return true
		}
	}
	return false
}

// ValidateState checks that text carries every required header line. A
// transition whose committed state fails this check is treated as invalid
// retroactively.
func ValidateState(text string) error {
	if missing := MissingHeaders(text); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHeaders, strings.Join(missing, " "))
	}
	return nil
}

// ParseState parses a state block. Header presence is strict; field values
// are lenient, since they come from a language model.
func ParseState(text string) (State, error) {
	if err := ValidateState(text); err != nil {
		return State{}, err
	}

	state := State{Status: StatusActive}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, HeaderLocation):
			state.Location = headerValue(line, HeaderLocation)
		case strings.HasPrefix(line, HeaderHealth):
			state.Health = atoiLenient(headerValue(line, HeaderHealth))
		case strings.HasPrefix(line, HeaderScore):
			state.Score = atoiLenient(headerValue(line, HeaderScore))
		case strings.HasPrefix(line, HeaderInventory):
			state.Inventory = headerValue(line, HeaderInventory)
		case strings.HasPrefix(line, HeaderStatus):
			state.Status = parseStatus(headerValue(line, HeaderStatus))
		case strings.HasPrefix(line, HeaderTurnCount):
			state.TurnCount = atoiLenient(headerValue(line, HeaderTurnCount))
		case strings.HasPrefix(line, "Messages:"):
			state.Messages = parseMessages(headerValue(line, "Messages:"))
		}
	}
	return state, nil
}

func headerValue(line, header string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, header))
}

func atoiLenient(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func parseStatus(raw string) Status {
	switch Status(strings.ToLower(raw)) {
	case StatusWon:
		return StatusWon
	case StatusLost:
		return StatusLost
	default:
		return StatusActive
	}
}

func parseMessages(raw string) []string {
	var messages []string
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		// Model output that isn't a JSON array is carried as one message.
		if raw != "" {
			return []string{raw}
		}
		return nil
	}
	return messages
}

// Won reports whether text carries a won status line. It works on raw text
// so the orchestrator can check a transition before parsing.
func Won(text string) bool {
	state, err := ParseState(text)
	return err == nil && state.Status == StatusWon
}
