// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inference

import (
	"context"

	"github.com/luxfi/gamevm/config"
)

// Model is the neural model resident behind a daemon. Load is expected to
// take minutes for multi-gigabyte blobs and runs on the daemon's loader
// goroutine; every other method must only be called once Loaded reports
// true.
type Model interface {
	// Load makes the model ready to generate. It is called exactly once.
	Load(ctx context.Context) error

	// Loaded reports whether Load has completed successfully.
	Loaded() bool

	// Generate completes prompt under the given sampling discipline,
	// stopping early on any of the stop strings or model EOS.
	Generate(ctx context.Context, prompt string, params config.Sampling, stop []string) (string, error)

	// NewSession returns a fresh persistent inference context.
	NewSession() Session
}

// Session is a persistent inference context that preserves prompt history
// across requests, so a continuation turn only pays for the new tokens.
type Session interface {
	// Seed replaces the context with the full prompt and generates from
	// it, recording the position reached.
	Seed(ctx context.Context, prompt string, params config.Sampling, stop []string) (string, error)

	// Append adds a minimal user turn to the live context and generates.
	// It fails if the session has never been seeded.
	Append(ctx context.Context, turn string, params config.Sampling, stop []string) (string, error)

	// Active reports whether the context holds usable history.
	Active() bool

	// Reset discards the persistent history.
	Reset()
}
