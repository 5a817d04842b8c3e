// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package jury implements the per-request consensus vote. Each node decides
// locally with its validator model, broadcasts its vote on the NPL channel
// (BLS-signed when a signer is configured), tallies incoming votes, and
// resolves once every counted peer has voted. The tally is commutative, so
// the outcome is independent of vote arrival order.
package jury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/gamevm/core"
	"github.com/luxfi/gamevm/utils/bag"
	"github.com/luxfi/gamevm/utils/linked"
	"github.com/luxfi/gamevm/utils/metric"
)

var (
	errFailedPendingMetric  = errors.New("failed to register pending_requests metric")
	errFailedDurationMetric = errors.New("failed to register resolve_duration metric")

	// ErrDuplicateRequest is returned when a request id is registered
	// twice in one round.
	ErrDuplicateRequest = errors.New("duplicate jury request")
)

// Resolution is the consensus outcome for one request.
type Resolution struct {
	RequestID    ids.ID
	Valid        bool
	Confidence   float64
	ValidVotes   int
	InvalidVotes int
	Received     int
}

// Callback receives the resolution for a request, together with the user
// and message type it was registered under. The orchestrator enriches it
// into the client reply.
type Callback func(user, messageType string, res Resolution)

// requestState accumulates votes for one request. It lives one round.
type requestState struct {
	user        string
	messageType string
	start       time.Time

	votes         bag.Bag[bool]
	confidenceSum map[bool]float64
	voted         map[ids.NodeID]struct{}
	received      int

	resolved   bool
	resolution Resolution
}

// Jury runs the local side of the consensus protocol.
type Jury struct {
	nodeID   ids.NodeID
	engine   DecisionEngine
	fallback Decision
	signer   *bls.SecretKey
	peerKeys map[ids.NodeID]*bls.PublicKey
	log      log.Logger

	pollInterval time.Duration

	// requests maps requestID -> accumulator, insertion-ordered so round
	// teardown can report abandoned requests oldest first.
	requests *linked.Hashmap[ids.ID, *requestState]

	numPending  prometheus.Gauge
	resolveTime metric.Averager

	onResolve Callback
}

// Config wires a Jury.
type Config struct {
	NodeID ids.NodeID
	Engine DecisionEngine

	// Fallback is the vote emitted when Engine fails. The default
	// parameters bias toward liveness: valid with confidence 0.1.
	Fallback Decision

	// Signer, when set, signs every outgoing vote.
	Signer *bls.SecretKey

	// PeerKeys maps jury ids to their registered BLS keys. Votes from
	// unknown senders are accepted unsigned for host compatibility.
	PeerKeys map[ids.NodeID]*bls.PublicKey

	PollInterval time.Duration

	Log       log.Logger
	Registry  prometheus.Registerer
	OnResolve Callback
}

// New creates a Jury.
func New(cfg Config) (*Jury, error) {
	numPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jury_pending_requests",
		Help: "Number of jury requests awaiting consensus",
	})
	if err := cfg.Registry.Register(numPending); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedPendingMetric, err)
	}
	resolveTime, err := metric.NewAverager(
		"jury_resolve_duration",
		"time (in ns) a request took to reach consensus",
		cfg.Registry,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedDurationMetric, err)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	return &Jury{
		nodeID:       cfg.NodeID,
		engine:       cfg.Engine,
		fallback:     cfg.Fallback,
		signer:       cfg.Signer,
		peerKeys:     cfg.PeerKeys,
		log:          cfg.Log,
		pollInterval: pollInterval,
		requests:     linked.NewHashmap[ids.ID, *requestState](),
		numPending:   numPending,
		resolveTime:  resolveTime,
		onResolve:    cfg.OnResolve,
	}, nil
}

// ProcessRequest produces the local decision for a request, broadcasts the
// vote exactly once, and registers the tally accumulator. The local vote is
// fed into the tally directly; a host that loops broadcasts back to the
// sender only produces a duplicate, which the tally ignores.
func (j *Jury) ProcessRequest(
	ctx context.Context,
	user string,
	messageType string,
	requestID ids.ID,
	peerCount int,
	voteContext string,
	broadcast func([]byte) error,
) error {
	if _, exists := j.requests.Get(requestID); exists {
		return ErrDuplicateRequest
	}

	decision, err := j.engine.Decide(ctx, voteContext)
	if err != nil {
		// Deliberate liveness-over-safety trade-off in degraded
		// conditions; see the configuration notes.
		j.log.Warn("validator unavailable, emitting fallback vote",
			"requestID", requestID,
			"fallbackValid", j.fallback.IsValid,
			"fallbackConfidence", j.fallback.Confidence,
			"error", err,
		)
		decision = j.fallback
	}

	vote := Vote{
		RequestID:  requestID,
		IsValid:    decision.IsValid,
		Confidence: decision.Confidence,
		Reason:     decision.Reason,
		JuryID:     j.nodeID,
		Context:    voteContext,
	}
	if j.signer != nil {
		if err := vote.Sign(j.signer); err != nil {
			return err
		}
	}

	raw, err := vote.Bytes()
	if err != nil {
		return err
	}
	if err := broadcast(raw); err != nil {
		return fmt.Errorf("failed to broadcast vote: %w", err)
	}

	j.log.Debug("registered jury request",
		"requestID", requestID,
		"user", user,
		"peerCount", peerCount,
		"localValid", decision.IsValid,
	)

	j.requests.Put(requestID, &requestState{
		user:          user,
		messageType:   messageType,
		start:         time.Now(),
		confidenceSum: make(map[bool]float64),
		voted:         make(map[ids.NodeID]struct{}),
	})
	j.numPending.Inc()

	// Count our own vote directly; an echoed copy from the host is dropped
	// as a duplicate juror.
	j.tally(vote, peerCount)
	return nil
}

// ProcessVote registers one NPL payload. Non-vote payloads, votes for
// unknown requests, duplicate (juryID, requestID) pairs and bad signatures
// are all ignored.
func (j *Jury) ProcessVote(raw []byte, peerCount int) {
	vote, ok := ParseVote(raw)
	if !ok {
		return
	}

	if pk, known := j.peerKeys[vote.JuryID]; known && !vote.VerifySignature(pk) {
		j.log.Warn("dropping vote with bad signature",
			"requestID", vote.RequestID,
			"juryID", vote.JuryID,
		)
		return
	}

	j.tally(vote, peerCount)
}

func (j *Jury) tally(vote Vote, peerCount int) {
	state, exists := j.requests.Get(vote.RequestID)
	if !exists {
		j.log.Debug("dropping vote",
			"reason", "unknown request",
			"requestID", vote.RequestID,
			"juryID", vote.JuryID,
		)
		return
	}
	if state.resolved {
		j.log.Debug("dropping vote",
			"reason", "already resolved",
			"requestID", vote.RequestID,
		)
		return
	}
	if _, seen := state.voted[vote.JuryID]; seen {
		j.log.Debug("dropping vote",
			"reason", "duplicate juror",
			"requestID", vote.RequestID,
			"juryID", vote.JuryID,
		)
		return
	}

	state.voted[vote.JuryID] = struct{}{}
	state.votes.Add(vote.IsValid)
	state.confidenceSum[vote.IsValid] += vote.Confidence
	state.received++

	j.log.Debug("processing vote",
		"requestID", vote.RequestID,
		"juryID", vote.JuryID,
		"isValid", vote.IsValid,
		"received", state.received,
		"required", peerCount,
	)

	if state.received < peerCount {
		return
	}
	j.resolve(vote.RequestID, state)
}

// resolve computes the outcome: majority requires strictly more valid than
// invalid votes, so a tie resolves invalid.
func (j *Jury) resolve(requestID ids.ID, state *requestState) {
	validVotes := state.votes.Count(true)
	invalidVotes := state.votes.Count(false)
	majorityValid := validVotes > invalidVotes

	winnerVotes := invalidVotes
	if majorityValid {
		winnerVotes = validVotes
	}
	confidence := 0.0
	if winnerVotes > 0 {
		confidence = state.confidenceSum[majorityValid] / float64(winnerVotes)
	}

	state.resolved = true
	state.resolution = Resolution{
		RequestID:    requestID,
		Valid:        majorityValid,
		Confidence:   confidence,
		ValidVotes:   validVotes,
		InvalidVotes: invalidVotes,
		Received:     state.received,
	}

	j.numPending.Dec()
	j.resolveTime.Observe(float64(time.Since(state.start)))
	j.log.Info("consensus reached",
		"requestID", requestID,
		"valid", majorityValid,
		"validVotes", validVotes,
		"invalidVotes", invalidVotes,
		"confidence", confidence,
	)

	if j.onResolve != nil {
		j.onResolve(state.user, state.messageType, state.resolution)
	}
}

// Resolution returns the outcome for a request once consensus is reached.
func (j *Jury) Resolution(requestID ids.ID) (Resolution, bool) {
	state, exists := j.requests.Get(requestID)
	if !exists || !state.resolved {
		return Resolution{}, false
	}
	return state.resolution, true
}

// WaitForConsensus polls the round's NPL inbox in pollInterval slices until
// the request resolves. There is no internal timeout; the host's round
// deadline is the upper bound, and an unresolved request is simply
// abandoned at round end.
func (j *Jury) WaitForConsensus(round core.RoundContext, requestID ids.ID, peerCount int) (Resolution, bool) {
	for {
		for _, raw := range round.Receive() {
			j.ProcessVote(raw, peerCount)
		}
		if res, ok := j.Resolution(requestID); ok {
			return res, true
		}
		if !time.Now().Before(round.Deadline()) {
			j.log.Warn("round budget exhausted before consensus",
				"requestID", requestID,
			)
			return Resolution{}, false
		}
		time.Sleep(j.pollInterval)
	}
}

// EndRound discards every accumulator: request state lives one round.
// Unresolved requests are dropped without reply; clients retry.
func (j *Jury) EndRound() {
	abandoned := 0
	j.requests.Iterate(func(requestID ids.ID, state *requestState) bool {
		if !state.resolved {
			abandoned++
			j.numPending.Dec()
			j.log.Debug("abandoning unresolved request",
				"requestID", requestID,
				"received", state.received,
			)
		}
		return true
	})
	if abandoned > 0 {
		j.log.Info("round ended with unresolved requests", "count", abandoned)
	}
	j.requests.Clear()
}
