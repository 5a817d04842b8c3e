// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package core defines the boundary between the contract core and the
// BFT contract host. The host owns the round loop, client I/O and the
// node-to-peer broadcast channel; the core only ever sees one round at a
// time through these interfaces.
package core

import "time"

// UserInput carries one client's inputs for the round, in the order the
// host collected them. The ordering is identical on every replica.
type UserInput struct {
	User     string
	Messages [][]byte
}

// RoundContext is the host-provided view of the executing round.
type RoundContext interface {
	// Readonly reports whether this round may mutate state or broadcast.
	Readonly() bool

	// Users returns the round's client inputs, host-ordered.
	Users() []UserInput

	// Reply emits a payload to a client. Replies are flushed by the host
	// when the round ends.
	Reply(user string, payload []byte) error

	// Broadcast emits a payload on the NPL channel to all peers.
	// It fails in readonly rounds.
	Broadcast(payload []byte) error

	// Receive drains NPL payloads that arrived since the previous call.
	Receive() [][]byte

	// Deadline is the host's round budget; work past it is discarded.
	Deadline() time.Time
}
