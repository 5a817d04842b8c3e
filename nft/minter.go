// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

const (
	// WalletSeedEnv must be set for minting to be enabled.
	WalletSeedEnv = "MINTER_WALLET_SEED"

	// DefaultSignerURL is the local signing-service endpoint.
	DefaultSignerURL = "http://127.0.0.1:3001/mint"
)

var (
	ErrNoWalletSeed  = errors.New("minter wallet seed not configured")
	ErrAlreadyMinted = errors.New("record already minted")
	ErrMintFailed    = errors.New("signing service refused mint")
)

// Minter posts win metadata to the external signing service. Callers must
// only invoke it in readonly rounds.
type Minter struct {
	url    string
	seed   string
	client *http.Client
	log    log.Logger
}

// NewMinter builds a minter. url may be empty to use the default endpoint;
// the wallet seed comes from the environment.
func NewMinter(url string, logger log.Logger) (*Minter, error) {
	seed := os.Getenv(WalletSeedEnv)
	if seed == "" {
		return nil, ErrNoWalletSeed
	}
	if url == "" {
		url = DefaultSignerURL
	}
	return &Minter{
		url:    url,
		seed:   seed,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger,
	}, nil
}

type mintRequest struct {
	GameID   string  `json:"game_id"`
	Seed     string  `json:"seed"`
	Metadata *Record `json:"metadata"`
}

type mintResponse struct {
	Success bool     `json:"success"`
	TxHash  string   `json:"tx_hash"`
	Tokens  []string `json:"nft_tokens"`
	Error   string   `json:"error"`
}

// Mint signs the record on-chain and returns it updated to minted.
func (m *Minter) Mint(ctx context.Context, record *Record) (*Record, error) {
	if record.Status == StatusMinted {
		return nil, ErrAlreadyMinted
	}

	body, err := json.Marshal(mintRequest{
		GameID:   record.GameID,
		Seed:     m.seed,
		Metadata: record,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var result mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed signer response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrMintFailed, result.Error)
	}

	record.Status = StatusMinted
	record.MintTimestamp = time.Now().UTC().Format(time.RFC3339)
	record.MintTxHash = result.TxHash
	record.NFTTokens = result.Tokens

	m.log.Info("nft minted",
		"game", record.GameID,
		"txHash", result.TxHash,
		"tokens", len(result.Tokens),
	)
	return record, nil
}

// MinterElector picks the single node allowed to mint in a consensus
// round. Reserved for deterministic minter election; the orchestrator does
// not call it yet and minting stays readonly-round only.
type MinterElector interface {
	Elect(peers []ids.NodeID) (ids.NodeID, bool)
}

// LexMinElector elects the lexicographically smallest peer id, which every
// replica computes identically.
type LexMinElector struct{}

func (LexMinElector) Elect(peers []ids.NodeID) (ids.NodeID, bool) {
	if len(peers) == 0 {
		return ids.NodeID{}, false
	}
	minID := peers[0]
	for _, peer := range peers[1:] {
		if peer.String() < minID.String() {
			minID = peer
		}
	}
	return minID, true
}
