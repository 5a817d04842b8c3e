// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package llama implements inference.Model against a llama.cpp server
// endpoint. The daemon co-tenants the server process; this package only
// speaks its HTTP surface.
package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
)

var (
	errNotLoaded  = errors.New("model not loaded")
	errNotSeeded  = errors.New("session has no persistent context")
	errServerGone = errors.New("llama server unreachable")
)

// healthResponse mirrors llama.cpp's /health endpoint.
type healthResponse struct {
	Status string `json:"status"`
}

// completionRequest mirrors the fields of llama.cpp's /completion endpoint
// that the daemons use.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	TopK        int      `json:"top_k"`
	TopP        float64  `json:"top_p"`
	NPredict    int      `json:"n_predict"`
	Stop        []string `json:"stop,omitempty"`
	CachePrompt bool     `json:"cache_prompt"`
	Stream      bool     `json:"stream"`
}

type completionResponse struct {
	Content      string `json:"content"`
	Stop         bool   `json:"stop"`
	StoppedEOS   bool   `json:"stopped_eos"`
	StoppedWord  bool   `json:"stopped_word"`
	StoppingWord string `json:"stopping_word"`
	TokensCached int64  `json:"tokens_cached"`
	Error        struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Server drives one llama.cpp server instance.
type Server struct {
	baseURL string
	client  *http.Client
	log     log.Logger

	mu     sync.RWMutex
	loaded bool
}

// New returns a Server for the llama.cpp endpoint at baseURL.
func New(baseURL string, logger log.Logger) *Server {
	return &Server{
		baseURL: baseURL,
		client:  &http.Client{},
		log:     logger,
	}
}

// Load waits for the server's /health endpoint to report ok. llama.cpp
// answers "loading model" while the blob is mapped in, which can take
// minutes.
func (s *Server) Load(ctx context.Context) error {
	for {
		ok, err := s.healthy(ctx)
		if err == nil && ok {
			s.mu.Lock()
			s.loaded = true
			s.mu.Unlock()
			s.log.Info("llama server ready", "url", s.baseURL)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errServerGone, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Server) healthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.Status == "ok", nil
}

func (s *Server) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Generate completes prompt without touching any persistent context.
func (s *Server) Generate(ctx context.Context, prompt string, params config.Sampling, stop []string) (string, error) {
	return s.complete(ctx, completionRequest{
		Prompt:      prompt,
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		NPredict:    params.MaxTokens,
		Stop:        stop,
	})
}

func (s *Server) complete(ctx context.Context, creq completionRequest) (string, error) {
	if !s.Loaded() {
		return "", errNotLoaded
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errServerGone, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var cresp completionResponse
	if err := json.Unmarshal(raw, &cresp); err != nil {
		return "", fmt.Errorf("malformed completion response: %w", err)
	}
	if cresp.Error.Message != "" {
		return "", fmt.Errorf("completion failed: %s", cresp.Error.Message)
	}
	return cresp.Content, nil
}

// NewSession returns a session backed by the server's prompt cache. The
// transcript accumulated locally is the position marker: every Append sends
// the full transcript with cache_prompt set, so the server only evaluates
// the new suffix.
func (s *Server) NewSession() inference.Session {
	return &session{server: s}
}

type session struct {
	server *Server

	mu         sync.Mutex
	transcript string
	seeded     bool
}

func (c *session) Seed(ctx context.Context, prompt string, params config.Sampling, stop []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.server.complete(ctx, completionRequest{
		Prompt:      prompt,
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		NPredict:    params.MaxTokens,
		Stop:        stop,
		CachePrompt: true,
	})
	if err != nil {
		return "", err
	}
	c.transcript = prompt + out
	c.seeded = true
	return out, nil
}

func (c *session) Append(ctx context.Context, turn string, params config.Sampling, stop []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seeded {
		return "", errNotSeeded
	}

	prompt := c.transcript + turn
	out, err := c.server.complete(ctx, completionRequest{
		Prompt:      prompt,
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		NPredict:    params.MaxTokens,
		Stop:        stop,
		CachePrompt: true,
	})
	if err != nil {
		return "", err
	}
	c.transcript = prompt + out
	return out, nil
}

func (c *session) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seeded
}

func (c *session) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = ""
	c.seeded = false
}
