// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package client is the contract-side view of a resident daemon: one-shot
// typed request/response over local TCP. There is no multiplexing or
// keep-alive; every request opens a fresh connection, sends one JSON
// object, half-closes, and reads the response until EOF.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/pidfile"
)

// PingState is the coarse liveness classification of a daemon.
type PingState int

const (
	// NotRunning means no socket and no live pid.
	NotRunning PingState = iota
	// Loading means the socket is not answering but the pid file names a
	// live process, or the daemon itself reports it is still loading.
	Loading
	// Running means the daemon answered ready.
	Running
)

func (s PingState) String() string {
	switch s {
	case Running:
		return "running"
	case Loading:
		return "loading"
	default:
		return "not-running"
	}
}

var errDaemonError = errors.New("daemon reported error")

// Client issues requests to one daemon role.
type Client struct {
	addr            string
	pidPath         string
	pingTimeout     time.Duration
	generateTimeout time.Duration
	log             log.Logger
}

// New returns a client for the daemon serving role.
func New(role inference.Role, params config.Parameters, logger log.Logger) *Client {
	port := params.GamePort
	if role == inference.RoleJury {
		port = params.JuryPort
	}
	return &Client{
		addr:            net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		pidPath:         inference.PIDFile(params.DataDir, role),
		pingTimeout:     params.PingTimeout,
		generateTimeout: params.GenerateTimeout,
		log:             logger,
	}
}

// Ping probes the daemon. A connect failure with a live pid is classified
// as Loading: the daemon may be deep in model loading and not yet accepting
// work, but it exists.
func (c *Client) Ping() (PingState, inference.PingResponse) {
	raw, err := c.roundTrip(inference.Request{Type: inference.Ping}, c.pingTimeout)
	if err != nil {
		if pidfile.LiveProcess(c.pidPath) {
			return Loading, inference.PingResponse{Status: inference.StatusLoading, ModelLoading: true}
		}
		return NotRunning, inference.PingResponse{}
	}

	var resp inference.PingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.log.Warn("malformed ping response", "error", err)
		return NotRunning, inference.PingResponse{}
	}
	switch resp.Status {
	case inference.StatusReady:
		return Running, resp
	case inference.StatusLoading:
		return Loading, resp
	default:
		return NotRunning, resp
	}
}

// CreateGame asks the game daemon for a new world narrative.
func (c *Client) CreateGame(prompt string) (string, error) {
	return c.generate(inference.Request{
		Type:   inference.CreateGame,
		Prompt: prompt,
	})
}

// PlayerAction asks the game daemon for the next state block.
func (c *Client) PlayerAction(gameID, action, oldState, world string, continueConversation bool) (string, error) {
	return c.generate(inference.Request{
		Type:                 inference.PlayerAction,
		GameID:               gameID,
		Action:               action,
		OldState:             oldState,
		World:                world,
		ContinueConversation: continueConversation,
	})
}

// Validate asks the jury daemon to judge a statement.
func (c *Client) Validate(statement string) (inference.ValidateResponse, error) {
	raw, err := c.roundTrip(inference.Request{
		Type:      inference.Validate,
		Statement: statement,
	}, c.generateTimeout)
	if err != nil {
		return inference.ValidateResponse{}, err
	}

	// An error envelope comes back as a GenerateResponse.
	var failure inference.GenerateResponse
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
		return inference.ValidateResponse{}, fmt.Errorf("%w: %s", errDaemonError, failure.Error)
	}

	var resp inference.ValidateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return inference.ValidateResponse{}, fmt.Errorf("malformed validate response: %w", err)
	}
	return resp, nil
}

// ResetConversation discards the game daemon's persistent context.
func (c *Client) ResetConversation() error {
	raw, err := c.roundTrip(inference.Request{Type: inference.ResetConversation}, c.pingTimeout)
	if err != nil {
		return err
	}
	var resp inference.ResetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("malformed reset response: %w", err)
	}
	if resp.Status != inference.ResetAck {
		return fmt.Errorf("%w: %s", errDaemonError, resp.Status)
	}
	return nil
}

func (c *Client) generate(req inference.Request) (string, error) {
	raw, err := c.roundTrip(req, c.generateTimeout)
	if err != nil {
		return "", err
	}
	var resp inference.GenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("malformed generate response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", errDaemonError, resp.Error)
	}
	return resp.Text, nil
}

func (c *Client) roundTrip(req inference.Request, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, err
	}
	// Half-close signals end-of-request; the daemon reads until EOF.
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return nil, err
		}
	}

	return io.ReadAll(conn)
}
