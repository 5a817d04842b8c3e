// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jury

import (
	"context"

	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/inference/client"
)

// Decision is the local engine's verdict on a statement.
type Decision struct {
	IsValid    bool
	Confidence float64
	Reason     string
}

// DecisionEngine produces the local vote for a request. The production
// engine asks the jury daemon; tests substitute mocks.
type DecisionEngine interface {
	Decide(ctx context.Context, statement string) (Decision, error)
}

// daemonEngine asks the jury daemon to validate statements.
type daemonEngine struct {
	client *client.Client
	log    log.Logger
}

// NewDaemonEngine wraps the jury daemon client as a DecisionEngine.
func NewDaemonEngine(c *client.Client, logger log.Logger) DecisionEngine {
	return &daemonEngine{client: c, log: logger}
}

func (e *daemonEngine) Decide(_ context.Context, statement string) (Decision, error) {
	resp, err := e.client.Validate(statement)
	if err != nil {
		return Decision{}, err
	}
	reason := "AI validation: rejected"
	if resp.Valid {
		reason = "AI validation: approved"
	}
	return Decision{
		IsValid:    resp.Valid,
		Confidence: resp.Confidence,
		Reason:     reason,
	}, nil
}
