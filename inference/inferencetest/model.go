// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inferencetest provides a scriptable in-memory model for tests.
package inferencetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
)

// Model is a deterministic inference.Model. GenerateFn receives every
// prompt, including session seeds and appends.
type Model struct {
	// LoadDelay stalls Load to exercise the loading window.
	LoadDelay time.Duration
	// LoadErr makes Load fail.
	LoadErr error
	// GenerateFn produces output for a prompt. Nil echoes the prompt.
	GenerateFn func(prompt string) (string, error)
	// AppendErr makes session Append fail, forcing initial-mode fallback.
	AppendErr error

	mu      sync.Mutex
	loaded  bool
	prompts []string
}

func (m *Model) Load(ctx context.Context) error {
	if m.LoadDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.LoadDelay):
		}
	}
	if m.LoadErr != nil {
		return m.LoadErr
	}
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Model) Generate(_ context.Context, prompt string, _ config.Sampling, _ []string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn := m.GenerateFn
	m.mu.Unlock()
	if fn == nil {
		return prompt, nil
	}
	return fn(prompt)
}

// Prompts returns every prompt seen so far.
func (m *Model) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *Model) NewSession() inference.Session {
	return &session{model: m}
}

type session struct {
	model  *Model
	mu     sync.Mutex
	seeded bool
}

func (s *session) Seed(ctx context.Context, prompt string, params config.Sampling, stop []string) (string, error) {
	out, err := s.model.Generate(ctx, prompt, params, stop)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.seeded = true
	s.mu.Unlock()
	return out, nil
}

func (s *session) Append(ctx context.Context, turn string, params config.Sampling, stop []string) (string, error) {
	s.mu.Lock()
	seeded := s.seeded
	s.mu.Unlock()
	if !seeded {
		return "", errors.New("session not seeded")
	}
	if s.model.AppendErr != nil {
		return "", s.model.AppendErr
	}
	return s.model.Generate(ctx, turn, params, stop)
}

func (s *session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = false
}
