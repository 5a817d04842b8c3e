// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"time"
)

var (
	ErrParametersInvalid     = errors.New("invalid contract parameters")
	ErrInvalidPeerCount      = errors.New("peer count must be >= 1")
	ErrPortConflict          = errors.New("game and jury daemons must bind distinct ports")
	ErrInvalidPort           = errors.New("daemon port must be in (0, 65535]")
	ErrInvalidConfidence     = errors.New("fallback confidence must be in [0, 1]")
	ErrInvalidPollInterval   = errors.New("vote poll interval must be > 0")
	ErrInvalidTimeout        = errors.New("timeouts must be > 0")
	ErrInvalidContextWindow  = errors.New("context window must be >= batch size")
	ErrMissingDataDir        = errors.New("data directory must be set")
	ErrMissingModelDir       = errors.New("model directory must be set")
	ErrInvalidSamplingParams = errors.New("invalid sampling parameters")
)

// Sampling controls token sampling for one daemon role.
type Sampling struct {
	TopK        int
	TopP        float64
	Temperature float64
	MaxTokens   int
}

func (s Sampling) Verify() error {
	switch {
	case s.TopK < 1:
		return ErrInvalidSamplingParams
	case s.TopP < 0 || s.TopP > 1:
		return ErrInvalidSamplingParams
	case s.Temperature < 0:
		return ErrInvalidSamplingParams
	case s.MaxTokens < 1:
		return ErrInvalidSamplingParams
	}
	return nil
}

// Parameters defines the contract core parameters shared by the
// orchestrator, the jury, the daemons and their clients.
type Parameters struct {
	// PeerCount is the UNL cardinality used to resolve jury votes.
	PeerCount int

	// Daemon endpoints on the local node.
	GamePort int
	JuryPort int

	// DataDir holds game_data/ and the pid sentinels. ModelDir holds the
	// model blob.
	DataDir  string
	ModelDir string

	// Client timeouts.
	PingTimeout     time.Duration
	GenerateTimeout time.Duration

	// VotePollInterval is the NPL polling slice while waiting for
	// consensus.
	VotePollInterval time.Duration

	// Fallback vote emitted when the validator daemon is unavailable.
	// Valid-with-low-confidence favors liveness during startup; set
	// FallbackValid to false to favor safety instead.
	FallbackValid      bool
	FallbackConfidence float64

	// Sampling disciplines per request kind.
	CreateSampling   Sampling
	ActionSampling   Sampling
	ValidateSampling Sampling

	ContextWindow int
	BatchSize     int
}

// Verify returns an error if the parameters are unusable.
func (p Parameters) Verify() error {
	switch {
	case p.PeerCount < 1:
		return ErrInvalidPeerCount
	case p.GamePort <= 0 || p.GamePort > 65535:
		return ErrInvalidPort
	case p.JuryPort <= 0 || p.JuryPort > 65535:
		return ErrInvalidPort
	case p.GamePort == p.JuryPort:
		return ErrPortConflict
	case p.DataDir == "":
		return ErrMissingDataDir
	case p.ModelDir == "":
		return ErrMissingModelDir
	case p.PingTimeout <= 0 || p.GenerateTimeout <= 0:
		return ErrInvalidTimeout
	case p.VotePollInterval <= 0:
		return ErrInvalidPollInterval
	case p.FallbackConfidence < 0 || p.FallbackConfidence > 1:
		return ErrInvalidConfidence
	case p.ContextWindow < p.BatchSize || p.BatchSize < 1:
		return ErrInvalidContextWindow
	}
	for _, s := range []Sampling{p.CreateSampling, p.ActionSampling, p.ValidateSampling} {
		if err := s.Verify(); err != nil {
			return err
		}
	}
	return nil
}
