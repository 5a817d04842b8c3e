// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coretest provides an in-memory contract host for tests.
package coretest

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/gamevm/core"
)

var errReadonlyBroadcast = errors.New("broadcast in readonly round")

// Round is an in-memory core.RoundContext. Tests inject peer votes with
// Deliver and inspect replies with Replies.
type Round struct {
	mu        sync.Mutex
	readonly  bool
	users     []core.UserInput
	replies   map[string][][]byte
	broadcast [][]byte
	inbox     [][]byte
	deadline  time.Time

	// OnBroadcast, if set, observes every broadcast payload. Tests use it
	// to echo the local vote back or to synthesize peer votes.
	OnBroadcast func(payload []byte)
}

// NewRound returns a mutable round with a far deadline.
func NewRound(readonly bool) *Round {
	return &Round{
		readonly: readonly,
		replies:  make(map[string][][]byte),
		deadline: time.Now().Add(time.Hour),
	}
}

// AddUser appends a user's messages to the round input.
func (r *Round) AddUser(user string, messages ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, core.UserInput{User: user, Messages: messages})
}

// Deliver queues an NPL payload for the next Receive call.
func (r *Round) Deliver(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = append(r.inbox, payload)
}

func (r *Round) Readonly() bool {
	return r.readonly
}

func (r *Round) Users() []core.UserInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.UserInput(nil), r.users...)
}

func (r *Round) Reply(user string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[user] = append(r.replies[user], payload)
	return nil
}

func (r *Round) Broadcast(payload []byte) error {
	if r.readonly {
		return errReadonlyBroadcast
	}
	r.mu.Lock()
	r.broadcast = append(r.broadcast, payload)
	cb := r.OnBroadcast
	r.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
	return nil
}

func (r *Round) Receive() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.inbox
	r.inbox = nil
	return drained
}

func (r *Round) Deadline() time.Time {
	return r.deadline
}

// SetDeadline overrides the round budget.
func (r *Round) SetDeadline(t time.Time) {
	r.deadline = t
}

// Replies returns the payloads sent to user so far.
func (r *Round) Replies(user string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.replies[user]...)
}

// Broadcasts returns every payload broadcast so far.
func (r *Round) Broadcasts() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.broadcast...)
}
