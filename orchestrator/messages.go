// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

// Actions the contract routes.
const (
	actionStat     = "stat"
	actionCreate   = "create_game"
	actionList     = "list_games"
	actionGetState = "get_game_state"
	actionPlayer   = "player_action"
	actionMint     = "mint_nft"
	actionQuery    = "query"
)

var errUnknownMessage = errors.New("unrecognized client message")

// clientMessage is one parsed client input.
type clientMessage struct {
	Action string
	Data   string

	// player_action fields
	GameID               string
	PlayerAction         string
	ContinueConversation bool
}

// rawClientMessage mirrors every JSON shape the client grammar allows; the
// populated field decides the action.
type rawClientMessage struct {
	Type         string `json:"type"`
	CreateGame   string `json:"create_game"`
	ListGames    any    `json:"list_games"`
	GetGameState string `json:"get_game_state"`
	MintNFT      string `json:"mint_nft"`
	Query        string `json:"query"`

	GameID               string `json:"game_id"`
	Action               string `json:"action"`
	ContinueConversation string `json:"continue_conversation"`
}

// parseClientMessage accepts the JSON grammar with the legacy colon form as
// fallback.
func parseClientMessage(raw []byte) (clientMessage, error) {
	var m rawClientMessage
	if err := json.Unmarshal(raw, &m); err == nil {
		switch {
		case m.Type == actionStat:
			return clientMessage{Action: actionStat}, nil
		case m.CreateGame != "":
			return clientMessage{Action: actionCreate, Data: m.CreateGame}, nil
		case m.ListGames != nil:
			return clientMessage{Action: actionList}, nil
		case m.GetGameState != "":
			return clientMessage{Action: actionGetState, Data: m.GetGameState}, nil
		case m.MintNFT != "":
			return clientMessage{Action: actionMint, Data: m.MintNFT}, nil
		case m.Query != "":
			return clientMessage{Action: actionQuery, Data: m.Query}, nil
		case m.GameID != "" && m.Action != "":
			return clientMessage{
				Action:               actionPlayer,
				GameID:               m.GameID,
				PlayerAction:         m.Action,
				ContinueConversation: m.ContinueConversation == "true",
			}, nil
		}
	}
	return parseLegacyMessage(string(raw))
}

// parseLegacyMessage handles the colon form "<action>:<data>"; player
// actions arrive as "game_id:action:continue".
func parseLegacyMessage(raw string) (clientMessage, error) {
	raw = strings.TrimSpace(raw)
	action, data, found := strings.Cut(raw, ":")
	if !found {
		switch action {
		case actionStat, actionList:
			return clientMessage{Action: action}, nil
		}
		return clientMessage{}, errUnknownMessage
	}

	switch action {
	case actionStat, actionList:
		return clientMessage{Action: action}, nil
	case actionCreate, actionGetState, actionMint, actionQuery:
		return clientMessage{Action: action, Data: data}, nil
	case actionPlayer:
		raw = data
	}

	// "game_id:action[:continue]"
	gameID, rest, found := strings.Cut(raw, ":")
	if !found || gameID == "" || rest == "" {
		return clientMessage{}, errUnknownMessage
	}
	playerAction, continueFlag, _ := strings.Cut(rest, ":")
	return clientMessage{
		Action:               actionPlayer,
		GameID:               gameID,
		PlayerAction:         playerAction,
		ContinueConversation: continueFlag == "true",
	}, nil
}

// Reply payloads.

type statsReply struct {
	Type          string             `json:"type"`
	ModelProgress float64            `json:"model_progress"`
	ModelPath     string             `json:"model_path"`
	DaemonStatus  string             `json:"daemon_status"`
	ModelReady    bool               `json:"model_ready"`
	DaemonDetails map[string]any     `json:"daemon_details"`
	TotalGames    int                `json:"total_games"`
}

type gameCreatedReply struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Status string `json:"status"`
}

type gamesListReply struct {
	Type  string   `json:"type"`
	Games []string `json:"games"`
}

type gameStateReply struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	State  string `json:"state"`
}

type consensusReply struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"requestId"`
	Decision   string         `json:"decision"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details"`

	// player_action enrichment
	GameID       string `json:"game_id,omitempty"`
	PlayerAction string `json:"player_action,omitempty"`
	ActionResult string `json:"action_result,omitempty"`
	GameState    string `json:"game_state,omitempty"`
}

type mintResultReply struct {
	Type         string   `json:"type"`
	GameID       string   `json:"game_id"`
	Success      bool     `json:"success"`
	ReadonlyMode bool     `json:"readonly_mode"`
	TxHash       string   `json:"tx_hash,omitempty"`
	Tokens       []string `json:"nft_tokens,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type errorReply struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Received string `json:"received,omitempty"`
}
