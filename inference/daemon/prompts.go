// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package daemon

import (
	"fmt"
	"strings"

	"github.com/luxfi/gamevm/inference"
)

// promptEncoding carries the chat-format delimiters for the loaded model
// family. The default is ChatML, which llama-family instruct models accept.
type promptEncoding struct {
	BeginOfText     string
	SystemStart     string
	SystemEnd       string
	UserStart       string
	UserEnd         string
	AssistantStart  string
	AssistantEnd    string
}

func chatMLEncoding() promptEncoding {
	return promptEncoding{
		SystemStart:    "<|im_start|>system\n",
		SystemEnd:      "<|im_end|>\n",
		UserStart:      "<|im_start|>user\n",
		UserEnd:        "<|im_end|>\n",
		AssistantStart: "<|im_start|>assistant\n",
		AssistantEnd:   "<|im_end|>\n",
	}
}

func (e promptEncoding) chat(system, user string) string {
	var sb strings.Builder
	sb.WriteString(e.BeginOfText)
	sb.WriteString(e.SystemStart)
	sb.WriteString(system)
	sb.WriteString(e.SystemEnd)
	sb.WriteString(e.UserStart)
	sb.WriteString(user)
	sb.WriteString(e.UserEnd)
	sb.WriteString(e.AssistantStart)
	return sb.String()
}

const createGameSystem = `You are the engine of a text adventure game. ` +
	`Design a new game world from the player's request. Respond with these ` +
	`sections, each on its own lines:
Game Title:
World Description:
World Lore:
Objectives:
Win Conditions:
Game Rules:
Current Situation:
Location:
Starting Status:`

func (e promptEncoding) createGame(prompt string) string {
	return e.chat(createGameSystem, "Create a game: "+prompt)
}

const actionSystem = `You are the engine of a text adventure game. Apply the ` +
	`player's action to the current state, following the world rules. Respond ` +
	`with the complete updated state between ` + inference.BeginStateMarker +
	` and ` + inference.EndStateMarker + `, keeping these exact headers:
Player_Location: <string>
Player_Health: <int>
Player_Score: <int>
Player_Inventory: [<items>]
Game_Status: active | won | lost
Messages: ["<narrative>"]
Turn_Count: <int>`

func (e promptEncoding) playerAction(world, oldState, action string) string {
	user := fmt.Sprintf("Game World:\n%s\n\nCurrent State:\n%s\n\nPlayer Action: %s\nUpdate the player state:",
		world, oldState, action)
	return e.chat(actionSystem, user)
}

// continuationTurn is the minimal user turn appended to a live persistent
// context in continuation mode.
func (e promptEncoding) continuationTurn(action string) string {
	return e.AssistantEnd + e.UserStart +
		fmt.Sprintf("Player Action: %s\nUpdate the player state:", action) +
		e.UserEnd + e.AssistantStart
}

const validateSystem = `You are a strict referee for a text adventure game. ` +
	`Judge whether the proposed state transition is consistent with the world ` +
	`rules and the player's action. Answer with a single word: YES or NO.`

func (e promptEncoding) validate(statement string) string {
	return e.chat(validateSystem, statement)
}
