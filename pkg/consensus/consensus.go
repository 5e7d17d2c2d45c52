package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/metrics"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultParticipationFloor is the minimum vote participation required
// for a proposal to decide at its deadline
const DefaultParticipationFloor = 0.5

// byzantineQuorum is the tally fraction required for byzantine agreement
const byzantineQuorum = 2.0 / 3.0

// ProposalSpec describes a new proposal
type ProposalSpec struct {
	SwarmID   string
	Topic     string
	Options   []string
	Algorithm types.Algorithm
	Deadline  time.Time
	Eligible  []string // voter ids; empty means no proposal
}

// Config holds consensus engine configuration
type Config struct {
	Store              storage.Store
	Broker             *events.Broker
	ParticipationFloor float64
	QueenWeight        int    // votes contributed by the designated voter
	QueenID            string // designated weighted voter, may change per swarm
}

// Engine manages proposal lifecycle: open -> (decided | timed_out).
// Proposals close when every eligible voter has voted, when an algorithm
// declares a result, or at the deadline.
type Engine struct {
	store  storage.Store
	broker *events.Broker
	floor  float64
	weight int
	logger zerolog.Logger

	mu      sync.Mutex
	open    map[string]*types.Proposal
	timers  map[string]*time.Timer
	queenID string
}

// New creates a consensus engine
func New(cfg Config) *Engine {
	if cfg.ParticipationFloor <= 0 {
		cfg.ParticipationFloor = DefaultParticipationFloor
	}
	if cfg.QueenWeight <= 0 {
		cfg.QueenWeight = 3
	}
	return &Engine{
		store:   cfg.Store,
		broker:  cfg.Broker,
		floor:   cfg.ParticipationFloor,
		weight:  cfg.QueenWeight,
		logger:  log.WithComponent("consensus"),
		open:    make(map[string]*types.Proposal),
		timers:  make(map[string]*time.Timer),
		queenID: cfg.QueenID,
	}
}

// SetQueen designates the weighted voter
func (e *Engine) SetQueen(agentID string) {
	e.mu.Lock()
	e.queenID = agentID
	e.mu.Unlock()
}

// Propose opens a proposal. The deadline must be in the future and the
// option and voter sets non-empty.
func (e *Engine) Propose(spec ProposalSpec) (*types.Proposal, error) {
	if spec.Topic == "" || len(spec.Options) == 0 {
		return nil, fmt.Errorf("proposal needs a topic and options: %w", types.ErrInvalidRequest)
	}
	if len(spec.Eligible) == 0 {
		return nil, fmt.Errorf("proposal needs eligible voters: %w", types.ErrInvalidRequest)
	}
	if !spec.Deadline.After(time.Now()) {
		return nil, fmt.Errorf("proposal deadline already passed: %w", types.ErrInvalidRequest)
	}
	switch spec.Algorithm {
	case types.AlgorithmMajority, types.AlgorithmWeighted, types.AlgorithmByzantine:
	case "":
		spec.Algorithm = types.AlgorithmMajority
	default:
		return nil, fmt.Errorf("unknown algorithm %q: %w", spec.Algorithm, types.ErrInvalidRequest)
	}

	p := &types.Proposal{
		ID:        uuid.New().String(),
		SwarmID:   spec.SwarmID,
		Topic:     spec.Topic,
		Options:   append([]string(nil), spec.Options...),
		Algorithm: spec.Algorithm,
		Deadline:  spec.Deadline,
		Status:    types.ProposalOpen,
		Votes:     make(map[string]string),
		Eligible:  append([]string(nil), spec.Eligible...),
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.open[p.ID] = p
	e.timers[p.ID] = time.AfterFunc(time.Until(p.Deadline), func() { e.expire(p.ID) })
	e.mu.Unlock()

	e.logger.Info().
		Str("proposal_id", p.ID).
		Str("topic", p.Topic).
		Str("algorithm", string(p.Algorithm)).
		Msg("proposal opened")
	e.broker.Emit(events.EventDecisionOpen, "consensus", map[string]string{
		"proposal_id": p.ID,
		"topic":       p.Topic,
		"algorithm":   string(p.Algorithm),
	})
	return p, nil
}

// Vote records one voter's choice. Votes from ineligible voters, choices
// outside the option set and votes on closed proposals are rejected.
// Revoting replaces the previous choice while the proposal is open.
func (e *Engine) Vote(proposalID, voter, choice string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.open[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not open: %w", proposalID, types.ErrUnknownEntity)
	}
	eligible := false
	for _, id := range p.Eligible {
		if id == voter {
			eligible = true
			break
		}
	}
	if !eligible {
		return fmt.Errorf("voter %s not eligible on %s: %w", voter, proposalID, types.ErrInvalidRequest)
	}
	valid := false
	for _, opt := range p.Options {
		if opt == choice {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("choice %q not among options: %w", choice, types.ErrInvalidRequest)
	}

	p.Votes[voter] = choice

	// Full participation closes early
	if len(p.Votes) == len(p.Eligible) {
		e.closeLocked(p)
	}
	return nil
}

// Get returns an open proposal by id
func (e *Engine) Get(proposalID string) (*types.Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.open[proposalID]
	return p, ok
}

// Close shuts down deadline timers
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// expire settles a proposal at its deadline
func (e *Engine) expire(proposalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.open[proposalID]
	if !ok {
		return
	}
	participation := float64(len(p.Votes)) / float64(len(p.Eligible))
	if participation < e.floor {
		p.Status = types.ProposalTimedOut
		p.ClosedAt = time.Now()
		delete(e.open, p.ID)
		delete(e.timers, p.ID)
		e.persistLocked(p)
		e.logger.Warn().
			Str("proposal_id", p.ID).
			Float64("participation", participation).
			Msg("proposal timed out below participation floor")
		return
	}
	e.closeLocked(p)
}

// closeLocked tallies and persists the outcome
func (e *Engine) closeLocked(p *types.Proposal) {
	decision, confidence := e.tally(p)
	p.Status = types.ProposalDecided
	p.Decision = decision
	p.Confidence = confidence
	p.ClosedAt = time.Now()
	delete(e.open, p.ID)
	if t, ok := e.timers[p.ID]; ok {
		t.Stop()
		delete(e.timers, p.ID)
	}
	e.persistLocked(p)
	e.logger.Info().
		Str("proposal_id", p.ID).
		Str("decision", decision).
		Float64("confidence", confidence).
		Msg("proposal decided")
}

// tally applies the proposal's quorum rule to its votes
func (e *Engine) tally(p *types.Proposal) (string, float64) {
	counts := make(map[string]float64, len(p.Options))
	var total float64
	for voter, choice := range p.Votes {
		w := 1.0
		if p.Algorithm == types.AlgorithmWeighted && voter == e.queenID {
			w = float64(e.weight)
		}
		counts[choice] += w
		total += w
	}
	if total == 0 {
		return types.NoConsensus, 0
	}

	// Ties break by option order
	var top string
	var topTally float64 = -1
	for _, opt := range p.Options {
		if counts[opt] > topTally {
			top = opt
			topTally = counts[opt]
		}
	}

	switch p.Algorithm {
	case types.AlgorithmMajority:
		return top, topTally / total
	case types.AlgorithmWeighted:
		// Raw vote count in the denominator keeps the queen's extra
		// weight from inflating confidence
		return top, topTally / (float64(len(p.Votes)) + float64(e.weight) - 1)
	case types.AlgorithmByzantine:
		if topTally/total >= byzantineQuorum {
			return top, topTally / total
		}
		return types.NoConsensus, 0
	}
	return top, topTally / total
}

// persistLocked writes the outcome to the decisions bucket and emits the
// closing event. Timed-out proposals record the timed_out marker.
func (e *Engine) persistLocked(p *types.Proposal) {
	decision := p.Decision
	if p.Status == types.ProposalTimedOut {
		decision = string(types.ProposalTimedOut)
	}
	record := &types.Decision{
		ID:         uuid.New().String(),
		SwarmID:    p.SwarmID,
		ProposalID: p.ID,
		Topic:      p.Topic,
		Decision:   decision,
		Votes:      p.Votes,
		Algorithm:  p.Algorithm,
		Confidence: p.Confidence,
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateDecision(record); err != nil {
		e.logger.Error().Err(err).Str("proposal_id", p.ID).Msg("decision persist failed")
	}
	metrics.DecisionsTotal.WithLabelValues(string(p.Algorithm), string(p.Status)).Inc()
	e.broker.Emit(events.EventDecisionClose, "consensus", map[string]string{
		"proposal_id": p.ID,
		"decision":    decision,
		"status":      string(p.Status),
		"confidence":  fmt.Sprintf("%.2f", p.Confidence),
	})
}
