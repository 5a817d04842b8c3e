// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jury

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// VoteMessageType marks jury votes on the NPL channel. Receivers ignore
// payloads carrying any other type.
const VoteMessageType = "jury_vote"

// Vote is one node's verdict on one request, broadcast exactly once.
type Vote struct {
	Type       string     `json:"type"`
	RequestID  ids.ID     `json:"requestId"`
	IsValid    bool       `json:"isValid"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	JuryID     ids.NodeID `json:"juryId"`
	Context    string     `json:"context"`
	Signature  []byte     `json:"signature,omitempty"`
}

// digest is the canonical signed form. The reason string is excluded: it is
// advisory and nodes may truncate it independently.
func (v *Vote) digest() []byte {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%t|%.6f|%s",
		v.RequestID, v.JuryID, v.IsValid, v.Confidence, v.Context))
	return sum[:]
}

// Sign attaches a BLS signature over the vote digest.
func (v *Vote) Sign(sk *bls.SecretKey) error {
	sig, err := sk.Sign(v.digest())
	if err != nil {
		return fmt.Errorf("failed to sign vote: %w", err)
	}
	v.Signature = bls.SignatureToBytes(sig)
	return nil
}

// VerifySignature checks the vote signature against pk.
func (v *Vote) VerifySignature(pk *bls.PublicKey) bool {
	sig, err := bls.SignatureFromBytes(v.Signature)
	if err != nil {
		return false
	}
	return bls.Verify(pk, sig, v.digest())
}

// Bytes renders the vote as its NPL payload.
func (v *Vote) Bytes() ([]byte, error) {
	v.Type = VoteMessageType
	return json.Marshal(v)
}

// ParseVote decodes an NPL payload. ok is false for payloads that are not
// jury votes; those are someone else's traffic and are silently ignored.
func ParseVote(raw []byte) (Vote, bool) {
	var v Vote
	if err := json.Unmarshal(raw, &v); err != nil {
		return Vote{}, false
	}
	if v.Type != VoteMessageType {
		return Vote{}, false
	}
	return v, true
}
