// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package daemon

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/client"
	"github.com/luxfi/gamevm/inference/inferencetest"
)

const sampleBlock = inference.BeginStateMarker + `
Player_Location: tunnel
Player_Health: 90
Player_Score: 10
Player_Inventory: [torch]
Game_Status: active
Messages: ["You move north into the tunnel."]
Turn_Count: 2
` + inference.EndStateMarker

// startDaemon binds an ephemeral port and returns a client aimed at it.
func startDaemon(t *testing.T, role inference.Role, model inference.Model) (*Daemon, *client.Client) {
	t.Helper()

	params := config.LocalParameters()
	params.DataDir = t.TempDir()
	params.GamePort = 0
	params.JuryPort = 0
	params.GenerateTimeout = 10 * time.Second

	d, err := New(role, model, params, log.NewNoOpLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Close)

	port := d.Addr().(*net.TCPAddr).Port
	if role == inference.RoleJury {
		params.JuryPort = port
	} else {
		params.GamePort = port
	}
	return d, client.New(role, params, log.NewNoOpLogger())
}

func TestPingAnsweredWhileLoading(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{LoadDelay: 500 * time.Millisecond}
	_, c := startDaemon(t, inference.RoleGame, model)

	// The socket accepts before the model finishes loading.
	state, resp := c.Ping()
	require.Equal(client.Loading, state)
	require.True(resp.ModelLoading)

	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 50*time.Millisecond)
}

func TestGenerateRefusedWhileLoading(t *testing.T) {
	model := &inferencetest.Model{LoadDelay: 2 * time.Second}
	_, c := startDaemon(t, inference.RoleGame, model)

	_, err := c.CreateGame("cave survival")
	require.ErrorContains(t, err, "loading")
}

func TestCreateGame(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{
		GenerateFn: func(string) (string, error) {
			return "Game Title: The Cave\nWorld Description: dark\nCurrent Situation: you wake up", nil
		},
	}
	_, c := startDaemon(t, inference.RoleGame, model)

	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	text, err := c.CreateGame("cave survival")
	require.NoError(err)
	require.Contains(text, "Game Title: The Cave")

	// The creation prompt carried the player's request.
	prompts := model.Prompts()
	require.NotEmpty(prompts)
	require.Contains(prompts[len(prompts)-1], "cave survival")
}

func TestPlayerActionContinuationAndFallback(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{
		GenerateFn: func(string) (string, error) { return sampleBlock, nil },
	}
	_, c := startDaemon(t, inference.RoleGame, model)
	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	// Initial mode builds the full prompt and seeds the context.
	out, err := c.PlayerAction("g1", "move north", "Player_Location: entrance", "a cave world", false)
	require.NoError(err)
	block, ok := inference.ExtractStateBlock(out)
	require.True(ok)
	require.Contains(block, "Player_Location: tunnel")
	require.Contains(model.Prompts()[len(model.Prompts())-1], "a cave world")

	// Continuation mode appends only the minimal user turn.
	_, err = c.PlayerAction("g1", "light torch", "Player_Location: tunnel", "a cave world", true)
	require.NoError(err)
	last := model.Prompts()[len(model.Prompts())-1]
	require.Contains(last, "Player Action: light torch")
	require.NotContains(last, "a cave world")

	// A broken persistent context falls back to initial mode.
	model.AppendErr = errAppendBroken
	_, err = c.PlayerAction("g1", "dig", "Player_Location: tunnel", "a cave world", true)
	require.NoError(err)
	require.Contains(model.Prompts()[len(model.Prompts())-1], "a cave world")
}

var errAppendBroken = errors.New("context lost")

func TestPlayerActionRestoresEndMarker(t *testing.T) {
	require := require.New(t)

	// Generation early-stopped on the end marker, so the raw output lacks
	// it.
	truncated := inference.BeginStateMarker + "\nPlayer_Location: ledge\n"
	model := &inferencetest.Model{
		GenerateFn: func(string) (string, error) { return truncated, nil },
	}
	_, c := startDaemon(t, inference.RoleGame, model)
	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	out, err := c.PlayerAction("g1", "jump", "old", "world", false)
	require.NoError(err)
	block, ok := inference.ExtractStateBlock(out)
	require.True(ok)
	require.Contains(block, "Player_Location: ledge")
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{
		GenerateFn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "teleported") {
				return "NO", nil
			}
			return " YES.", nil
		},
	}
	_, c := startDaemon(t, inference.RoleJury, model)
	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	verdict, err := c.Validate("the player moved north")
	require.NoError(err)
	require.True(verdict.Valid)
	require.Equal(0.95, verdict.Confidence)

	verdict, err = c.Validate("the player teleported to the moon")
	require.NoError(err)
	require.False(verdict.Valid)
	require.Equal("NO", verdict.RawResponse)
}

func TestValidateRejectedByGameDaemon(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{}
	_, c := startDaemon(t, inference.RoleGame, model)
	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	_, err := c.Validate("anything")
	require.ErrorContains(err, "role")
}

func TestResetConversation(t *testing.T) {
	require := require.New(t)

	model := &inferencetest.Model{
		GenerateFn: func(string) (string, error) { return sampleBlock, nil },
	}
	d, c := startDaemon(t, inference.RoleGame, model)
	require.Eventually(func() bool {
		state, _ := c.Ping()
		return state == client.Running
	}, 5*time.Second, 20*time.Millisecond)

	_, err := c.PlayerAction("g1", "move", "old", "world", false)
	require.NoError(err)
	require.True(d.session.Active())

	require.NoError(c.ResetConversation())
	require.False(d.session.Active())
}

func TestPingNotRunning(t *testing.T) {
	params := config.LocalParameters()
	params.DataDir = t.TempDir()
	params.GamePort = 1 // nothing listens there

	c := client.New(inference.RoleGame, params, log.NewNoOpLogger())
	state, _ := c.Ping()
	require.Equal(t, client.NotRunning, state)
}
