package consensus

import (
	"errors"
	"testing"
	"time"

	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cfg Config) (*Engine, storage.Store) {
	t.Helper()
	store := storage.NewMemStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cfg.Store = store
	cfg.Broker = broker
	e := New(cfg)
	t.Cleanup(e.Close)
	return e, store
}

func propose(t *testing.T, e *Engine, spec ProposalSpec) *types.Proposal {
	t.Helper()
	if spec.SwarmID == "" {
		spec.SwarmID = "s1"
	}
	if spec.Deadline.IsZero() {
		spec.Deadline = time.Now().Add(time.Minute)
	}
	p, err := e.Propose(spec)
	require.NoError(t, err)
	return p
}

func lastDecision(t *testing.T, store storage.Store, swarmID string) *types.Decision {
	t.Helper()
	var d *types.Decision
	require.Eventually(t, func() bool {
		decisions, err := store.ListDecisions(swarmID)
		if err != nil || len(decisions) == 0 {
			return false
		}
		d = decisions[len(decisions)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return d
}

func TestProposeValidation(t *testing.T) {
	e, _ := newEngine(t, Config{})

	tests := []struct {
		name string
		spec ProposalSpec
	}{
		{"no topic", ProposalSpec{Options: []string{"a"}, Eligible: []string{"v1"}, Deadline: time.Now().Add(time.Minute)}},
		{"no options", ProposalSpec{Topic: "t", Eligible: []string{"v1"}, Deadline: time.Now().Add(time.Minute)}},
		{"no voters", ProposalSpec{Topic: "t", Options: []string{"a"}, Deadline: time.Now().Add(time.Minute)}},
		{"past deadline", ProposalSpec{Topic: "t", Options: []string{"a"}, Eligible: []string{"v1"}, Deadline: time.Now().Add(-time.Second)}},
		{"bad algorithm", ProposalSpec{Topic: "t", Options: []string{"a"}, Eligible: []string{"v1"}, Deadline: time.Now().Add(time.Minute), Algorithm: "plurality"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Propose(tt.spec)
			assert.True(t, errors.Is(err, types.ErrInvalidRequest))
		})
	}
}

func TestVoteValidation(t *testing.T) {
	e, _ := newEngine(t, Config{})
	p := propose(t, e, ProposalSpec{
		Topic:    "choose_db",
		Options:  []string{"sqlite", "postgres"},
		Eligible: []string{"v1", "v2"},
	})

	err := e.Vote("no-such-proposal", "v1", "sqlite")
	assert.True(t, errors.Is(err, types.ErrUnknownEntity))

	err = e.Vote(p.ID, "outsider", "sqlite")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	err = e.Vote(p.ID, "v1", "mongodb")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	require.NoError(t, e.Vote(p.ID, "v1", "sqlite"))
	// Revoting replaces the prior choice while open
	require.NoError(t, e.Vote(p.ID, "v1", "postgres"))
	got, ok := e.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, "postgres", got.Votes["v1"])
}

func TestMajorityDecision(t *testing.T) {
	e, store := newEngine(t, Config{})
	p := propose(t, e, ProposalSpec{
		Topic:     "choose_db",
		Options:   []string{"sqlite", "postgres", "mysql"},
		Algorithm: types.AlgorithmMajority,
		Eligible:  []string{"v1", "v2", "v3", "v4", "v5"},
	})

	require.NoError(t, e.Vote(p.ID, "v1", "sqlite"))
	require.NoError(t, e.Vote(p.ID, "v2", "sqlite"))
	require.NoError(t, e.Vote(p.ID, "v3", "postgres"))
	require.NoError(t, e.Vote(p.ID, "v4", "sqlite"))
	require.NoError(t, e.Vote(p.ID, "v5", "mysql"))

	// Full participation closed the proposal
	_, open := e.Get(p.ID)
	assert.False(t, open)

	d := lastDecision(t, store, "s1")
	assert.Equal(t, "sqlite", d.Decision)
	assert.InDelta(t, 0.6, d.Confidence, 0.001)
}

func TestMajorityTieBreaksByOptionOrder(t *testing.T) {
	e, store := newEngine(t, Config{})
	p := propose(t, e, ProposalSpec{
		Topic:     "tie",
		Options:   []string{"alpha", "beta"},
		Algorithm: types.AlgorithmMajority,
		Eligible:  []string{"v1", "v2"},
	})
	require.NoError(t, e.Vote(p.ID, "v1", "beta"))
	require.NoError(t, e.Vote(p.ID, "v2", "alpha"))

	d := lastDecision(t, store, "s1")
	assert.Equal(t, "alpha", d.Decision)
	assert.InDelta(t, 0.5, d.Confidence, 0.001)
}

func TestWeightedQueenVote(t *testing.T) {
	e, store := newEngine(t, Config{QueenWeight: 3, QueenID: "queen"})
	p := propose(t, e, ProposalSpec{
		Topic:     "choose_db",
		Options:   []string{"sqlite", "postgres"},
		Algorithm: types.AlgorithmWeighted,
		Eligible:  []string{"queen", "w1", "w2"},
	})

	// Two workers against, queen for: the queen's weight carries it
	require.NoError(t, e.Vote(p.ID, "w1", "postgres"))
	require.NoError(t, e.Vote(p.ID, "w2", "postgres"))
	require.NoError(t, e.Vote(p.ID, "queen", "sqlite"))

	d := lastDecision(t, store, "s1")
	assert.Equal(t, "sqlite", d.Decision)
	assert.InDelta(t, 0.6, d.Confidence, 0.001)
}

func TestByzantineQuorum(t *testing.T) {
	t.Run("two thirds decides", func(t *testing.T) {
		e, store := newEngine(t, Config{})
		p := propose(t, e, ProposalSpec{
			Topic:     "commit",
			Options:   []string{"yes", "no"},
			Algorithm: types.AlgorithmByzantine,
			Eligible:  []string{"v1", "v2", "v3"},
		})
		require.NoError(t, e.Vote(p.ID, "v1", "yes"))
		require.NoError(t, e.Vote(p.ID, "v2", "yes"))
		require.NoError(t, e.Vote(p.ID, "v3", "no"))

		d := lastDecision(t, store, "s1")
		assert.Equal(t, "yes", d.Decision)
		assert.InDelta(t, 2.0/3.0, d.Confidence, 0.001)
	})

	t.Run("three way split fails", func(t *testing.T) {
		e, store := newEngine(t, Config{})
		p := propose(t, e, ProposalSpec{
			Topic:     "commit",
			Options:   []string{"a", "b", "c"},
			Algorithm: types.AlgorithmByzantine,
			Eligible:  []string{"v1", "v2", "v3"},
		})
		require.NoError(t, e.Vote(p.ID, "v1", "a"))
		require.NoError(t, e.Vote(p.ID, "v2", "b"))
		require.NoError(t, e.Vote(p.ID, "v3", "c"))

		d := lastDecision(t, store, "s1")
		assert.Equal(t, types.NoConsensus, d.Decision)
		assert.Zero(t, d.Confidence)
	})

	t.Run("exactly half fails", func(t *testing.T) {
		e, store := newEngine(t, Config{})
		p := propose(t, e, ProposalSpec{
			Topic:     "commit",
			Options:   []string{"yes", "no"},
			Algorithm: types.AlgorithmByzantine,
			Eligible:  []string{"v1", "v2", "v3", "v4", "v5", "v6"},
		})
		for i, v := range []string{"v1", "v2", "v3", "v4", "v5", "v6"} {
			choice := "yes"
			if i%2 == 1 {
				choice = "no"
			}
			require.NoError(t, e.Vote(p.ID, v, choice))
		}

		d := lastDecision(t, store, "s1")
		assert.Equal(t, types.NoConsensus, d.Decision)
	})
}

func TestDeadlineWithQuorumDecides(t *testing.T) {
	e, store := newEngine(t, Config{})
	p := propose(t, e, ProposalSpec{
		Topic:     "partial",
		Options:   []string{"a", "b"},
		Algorithm: types.AlgorithmMajority,
		Eligible:  []string{"v1", "v2", "v3"},
		Deadline:  time.Now().Add(100 * time.Millisecond),
	})
	require.NoError(t, e.Vote(p.ID, "v1", "a"))
	require.NoError(t, e.Vote(p.ID, "v2", "a"))

	d := lastDecision(t, store, "s1")
	assert.Equal(t, "a", d.Decision)
	assert.InDelta(t, 1.0, d.Confidence, 0.001)
}

func TestDeadlineBelowFloorTimesOut(t *testing.T) {
	e, store := newEngine(t, Config{})
	p := propose(t, e, ProposalSpec{
		Topic:     "quiet",
		Options:   []string{"a", "b"},
		Algorithm: types.AlgorithmMajority,
		Eligible:  []string{"v1", "v2", "v3"},
		Deadline:  time.Now().Add(100 * time.Millisecond),
	})
	require.NoError(t, e.Vote(p.ID, "v1", "a"))

	d := lastDecision(t, store, "s1")
	assert.Equal(t, string(types.ProposalTimedOut), d.Decision)

	// Late votes are rejected
	err := e.Vote(p.ID, "v2", "a")
	assert.True(t, errors.Is(err, types.ErrUnknownEntity))
}

func TestSetQueenChangesWeighting(t *testing.T) {
	e, store := newEngine(t, Config{QueenWeight: 3})
	e.SetQueen("promoted")

	p := propose(t, e, ProposalSpec{
		Topic:     "succession",
		Options:   []string{"a", "b"},
		Algorithm: types.AlgorithmWeighted,
		Eligible:  []string{"promoted", "w1"},
	})
	require.NoError(t, e.Vote(p.ID, "w1", "b"))
	require.NoError(t, e.Vote(p.ID, "promoted", "a"))

	d := lastDecision(t, store, "s1")
	assert.Equal(t, "a", d.Decision)
}
