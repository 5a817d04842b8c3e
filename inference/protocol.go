// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inference defines the JSON protocol spoken between the contract
// and the resident inference daemons, and the model abstraction the daemons
// serve. Requests are one-shot: connect, send one JSON object, read the
// response until EOF.
package inference

import (
	"strings"
)

// Markers delimit the authoritative per-turn state block inside free-form
// model output.
const (
	BeginStateMarker = "<<BEGIN_PLAYER_STATE>>"
	EndStateMarker   = "<<END_PLAYER_STATE>>"
)

// RequestType enumerates daemon requests.
type RequestType string

const (
	Ping              RequestType = "ping"
	CreateGame        RequestType = "create_game"
	PlayerAction      RequestType = "player_action"
	Validate          RequestType = "validate"
	ResetConversation RequestType = "reset_conversation"
)

// Request is the single envelope for every daemon request.
type Request struct {
	Type RequestType `json:"type"`

	// create_game
	Prompt string `json:"prompt,omitempty"`

	// player_action
	GameID               string `json:"game_id,omitempty"`
	Action               string `json:"action,omitempty"`
	OldState             string `json:"old_state,omitempty"`
	World                string `json:"world,omitempty"`
	ContinueConversation bool   `json:"continue_conversation,omitempty"`

	// validate
	Statement string `json:"statement,omitempty"`
}

// DaemonStatus is the ping tri-state.
type DaemonStatus string

const (
	StatusLoading DaemonStatus = "loading"
	StatusReady   DaemonStatus = "ready"
	StatusError   DaemonStatus = "error"
)

// PingResponse reports daemon liveness. It is answered even while the model
// is still loading.
type PingResponse struct {
	Status       DaemonStatus `json:"status"`
	ModelLoaded  bool         `json:"model_loaded"`
	ModelLoading bool         `json:"model_loading"`
	Error        string       `json:"error,omitempty"`
}

// GenerateResponse carries free-form model output for create_game and
// player_action requests.
type GenerateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ValidateResponse is the jury daemon's verdict on a statement.
type ValidateResponse struct {
	Valid       bool    `json:"valid"`
	Confidence  float64 `json:"confidence"`
	RawResponse string  `json:"raw_response"`
}

// ResetResponse acknowledges a reset_conversation request.
type ResetResponse struct {
	Status string `json:"status"`
}

// ResetAck is the status value carried by ResetResponse.
const ResetAck = "conversation_reset"

// ExtractStateBlock returns the marker-delimited state block from raw model
// output: the LAST begin marker, paired with the first end marker after it,
// whitespace-trimmed. ok is false when no complete pair exists; the caller
// treats that as a malformed transition.
func ExtractStateBlock(output string) (string, bool) {
	begin := strings.LastIndex(output, BeginStateMarker)
	if begin == -1 {
		return "", false
	}
	rest := output[begin+len(BeginStateMarker):]
	end := strings.Index(rest, EndStateMarker)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
