// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// DefaultParameters returns the production parameters.
func DefaultParameters() Parameters {
	return Parameters{
		PeerCount:        3,
		GamePort:         8085,
		JuryPort:         8086,
		DataDir:          ".",
		ModelDir:         "model",
		PingTimeout:      10 * time.Second,
		GenerateTimeout:  120 * time.Second,
		VotePollInterval: 100 * time.Millisecond,

		FallbackValid:      true,
		FallbackConfidence: 0.1,

		CreateSampling: Sampling{
			TopK:        20,
			TopP:        0.7,
			Temperature: 0.3,
			MaxTokens:   1200,
		},
		ActionSampling: Sampling{
			TopK:        40,
			TopP:        0.9,
			Temperature: 0.8,
			MaxTokens:   400,
		},
		ValidateSampling: Sampling{
			TopK:        2,
			TopP:        1.0,
			Temperature: 0.01,
			MaxTokens:   5,
		},

		ContextWindow: 8192,
		BatchSize:     2048,
	}
}

// LocalParameters returns parameters for a single-node development host.
func LocalParameters() Parameters {
	p := DefaultParameters()
	p.PeerCount = 1
	p.GenerateTimeout = 5 * time.Minute
	return p
}
