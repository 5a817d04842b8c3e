// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// Builder accumulates overrides on top of a preset.
type Builder struct {
	params Parameters
}

// NewBuilder starts from the given preset.
func NewBuilder(base Parameters) *Builder {
	return &Builder{params: base}
}

func (b *Builder) WithPeerCount(n int) *Builder {
	b.params.PeerCount = n
	return b
}

func (b *Builder) WithPorts(game, jury int) *Builder {
	b.params.GamePort = game
	b.params.JuryPort = jury
	return b
}

func (b *Builder) WithDataDir(dir string) *Builder {
	b.params.DataDir = dir
	return b
}

func (b *Builder) WithModelDir(dir string) *Builder {
	b.params.ModelDir = dir
	return b
}

func (b *Builder) WithGenerateTimeout(d time.Duration) *Builder {
	b.params.GenerateTimeout = d
	return b
}

// WithFallbackVote configures the vote emitted when the validator daemon is
// unavailable.
func (b *Builder) WithFallbackVote(valid bool, confidence float64) *Builder {
	b.params.FallbackValid = valid
	b.params.FallbackConfidence = confidence
	return b
}

// Build verifies and returns the parameters.
func (b *Builder) Build() (Parameters, error) {
	if err := b.params.Verify(); err != nil {
		return Parameters{}, err
	}
	return b.params, nil
}
