// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gamestate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const wonBlock = `Player_Location: throne room
Player_Health: 75
Player_Score: 1200
Player_Inventory: [crown, torch, map]
Game_Status: won
Messages: ["You place the crown on your head.", "The cave rumbles in approval."]
Turn_Count: 42`

func TestParseState(t *testing.T) {
	require := require.New(t)

	state, err := ParseState(wonBlock)
	require.NoError(err)
	require.Equal("throne room", state.Location)
	require.Equal(75, state.Health)
	require.Equal(1200, state.Score)
	require.Equal("[crown, torch, map]", state.Inventory)
	require.Equal(StatusWon, state.Status)
	require.Equal(42, state.TurnCount)
	require.Len(state.Messages, 2)
	require.Equal("You place the crown on your head.", state.Messages[0])
}

func TestParseStateLenientValues(t *testing.T) {
	require := require.New(t)

	block := `Player_Location: ledge
Player_Health: full
Player_Score: many
Player_Inventory: nothing
Game_Status: ACTIVE
Messages: the model forgot the array
Turn_Count: 3`

	state, err := ParseState(block)
	require.NoError(err)
	require.Equal(0, state.Health)
	require.Equal(0, state.Score)
	require.Equal(StatusActive, state.Status)
	require.Equal([]string{"the model forgot the array"}, state.Messages)
}

func TestValidateStateMissingHeaders(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		missing int
	}{
		{name: "complete", text: wonBlock, missing: 0},
		{name: "empty", text: "", missing: 6},
		{
			name: "no turn count",
			text: "Player_Location: x\nPlayer_Health: 1\nPlayer_Score: 0\nPlayer_Inventory: []\nGame_Status: active",
			missing: 1,
		},
		{name: "narrative only", text: "You move north. It is dark.", missing: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			missing := MissingHeaders(tt.text)
			require.Len(t, missing, tt.missing)
			if tt.missing == 0 {
				require.NoError(t, ValidateState(tt.text))
			} else {
				require.ErrorIs(t, ValidateState(tt.text), ErrMissingHeaders)
			}
		})
	}
}

func TestWon(t *testing.T) {
	require.True(t, Won(wonBlock))

	active := `Player_Location: entrance
Player_Health: 100
Player_Score: 0
Player_Inventory: []
Game_Status: active
Turn_Count: 0`
	require.False(t, Won(active))
	require.False(t, Won("Game_Status: won")) // headers incomplete
}

func TestPartitionHeuristics(t *testing.T) {
	require := require.New(t)

	// Untagged lines before any tag classify by keyword.
	narrative := `A forgotten kingdom beneath the mountains.
You have 100 health and 0 score.
Game Title: Under the Peaks
World Lore: Dwarves once ruled here.
More lore on a continuation line.
Current Situation: You stand at the gates.
The wind howls around you.`

	world, state := Partition(narrative)
	require.Contains(world, "A forgotten kingdom")
	require.Contains(world, "More lore on a continuation line.")
	require.Contains(state, "You have 100 health")
	require.Contains(state, "The wind howls around you.")
	require.NotContains(world, "Current Situation:")
}
