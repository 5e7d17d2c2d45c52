package queen

import (
	"context"
	"testing"
	"time"

	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/scheduler"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSwarm = "swarm-queen"

func TestChooseTopology(t *testing.T) {
	tests := []struct {
		objective string
		want      types.Topology
	}{
		{"Research quantum computing applications", types.TopologyMesh},
		{"analyze customer churn data", types.TopologyMesh},
		{"Build a REST API for inventory", types.TopologyHierarchical},
		{"implement the payment flow", types.TopologyHierarchical},
		{"monitor production deployments", types.TopologyRing},
		{"coordinate the release train", types.TopologyStar},
		{"do something unspecified", types.TopologyHierarchical},
	}
	for _, tt := range tests {
		t.Run(tt.objective, func(t *testing.T) {
			assert.Equal(t, tt.want, ChooseTopology(tt.objective))
		})
	}
}

// newHive wires a queen over in-memory storage. The scheduler is never
// started; tasks submitted to it just sit in the queue, which is exactly
// what scaling decisions read.
func newHive(t *testing.T, maxWorkers int) (*Queen, *agent.Pool, storage.Store, *scheduler.Scheduler) {
	t.Helper()
	store := storage.NewMemStore()
	b := bus.New()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(func() { broker.Stop(); b.Close() })

	pool := agent.NewPool(agent.Config{
		Store:       store,
		Bus:         b,
		Broker:      broker,
		RetireDrain: 50 * time.Millisecond,
	})
	pool.Start(context.Background())
	t.Cleanup(pool.Shutdown)

	sched := scheduler.New(scheduler.Config{
		Store:   store,
		Bus:     b,
		Pool:    pool,
		Broker:  broker,
		SwarmID: testSwarm,
	})

	q := New(Config{
		Store:      store,
		Pool:       pool,
		Scheduler:  sched,
		SwarmID:    testSwarm,
		MaxWorkers: maxWorkers,
	})
	return q, pool, store, sched
}

func TestSeedSpawnsQueenAndMix(t *testing.T) {
	q, _, store, _ := newHive(t, 8)
	require.NoError(t, q.Seed())
	require.NotEmpty(t, q.AgentID())

	agents, err := store.ListAgents(testSwarm)
	require.NoError(t, err)
	assert.Len(t, agents, 5, "queen plus four seed workers")

	queenAgent, err := store.GetAgent(q.AgentID())
	require.NoError(t, err)
	assert.Equal(t, types.AgentRoleQueen, queenAgent.Role)
	assert.Equal(t, types.AgentTypeQueen, queenAgent.Type)
}

func TestSeedRespectsMaxWorkers(t *testing.T) {
	q, _, store, _ := newHive(t, 2)
	require.NoError(t, q.Seed())

	agents, err := store.ListAgents(testSwarm)
	require.NoError(t, err)
	assert.Len(t, agents, 3, "queen plus two workers")
}

func TestScaleUpUnderQueuePressure(t *testing.T) {
	q, pool, _, sched := newHive(t, 6)
	for _, typ := range []types.AgentType{types.AgentTypeCoder, types.AgentTypeTester} {
		_, err := pool.Spawn(testSwarm, typ, types.AgentRoleWorker, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, sched.Submit(&types.Task{Description: "implement code generation step"}))
	}

	// Idle workers can't see the tasks (scheduler not running), so queue
	// pressure drives the pool to the cap and no further
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Scale())
	}
	n, err := pool.Size(testSwarm)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "pool must stop at max_workers")
}

func TestScaleDownWhenCold(t *testing.T) {
	q, pool, store, _ := newHive(t, 8)
	var agents []*types.Agent
	for i := 0; i < 4; i++ {
		a, err := pool.Spawn(testSwarm, types.AgentTypeCoder, types.AgentRoleWorker, nil)
		require.NoError(t, err)
		agents = append(agents, a)
	}
	// Make the first worker the stalest
	agents[0].LastActiveAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateAgent(agents[0]))

	// 4 idle, 0 pending: one worker is retired per pass, floor of 2
	require.NoError(t, q.Scale())
	retired, err := store.GetAgent(agents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, retired.Status, "LRU idle worker goes first")

	require.NoError(t, q.Scale())
	require.NoError(t, q.Scale())
	require.NoError(t, q.Scale())
	n, err := pool.Size(testSwarm)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "scale down never goes below two workers")
}

func TestRecoverReplacesErroredAgents(t *testing.T) {
	q, pool, store, _ := newHive(t, 8)
	a, err := pool.Spawn(testSwarm, types.AgentTypeTester, types.AgentRoleWorker, nil)
	require.NoError(t, err)
	require.NoError(t, pool.MarkError(a.ID, "test"))

	require.NoError(t, q.recover())

	old, err := store.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, old.Status)

	agents, err := store.ListAgents(testSwarm)
	require.NoError(t, err)
	var live []*types.Agent
	for _, ag := range agents {
		if ag.Status != types.AgentStatusOffline {
			live = append(live, ag)
		}
	}
	require.Len(t, live, 1)
	assert.Equal(t, types.AgentTypeTester, live[0].Type, "replacement keeps the type")
	assert.NotEqual(t, a.ID, live[0].ID, "replacement gets a fresh identity")
}

func TestRestartBudgetExhaustion(t *testing.T) {
	q, pool, store, _ := newHive(t, 8)
	q.cfg.RestartBudget = 1
	q.cfg.RestartWindow = time.Hour

	for i := 0; i < 2; i++ {
		a, err := pool.Spawn(testSwarm, types.AgentTypeCoder, types.AgentRoleWorker, nil)
		require.NoError(t, err)
		require.NoError(t, pool.MarkError(a.ID, "test"))
	}
	require.NoError(t, q.recover())

	agents, err := store.ListAgents(testSwarm)
	require.NoError(t, err)
	live := 0
	for _, ag := range agents {
		if ag.Status != types.AgentStatusOffline {
			live++
		}
	}
	assert.Equal(t, 1, live, "only one replacement fits the budget")
}

func TestPlanObjectivePhases(t *testing.T) {
	t.Run("build objective gets implement and verify phases", func(t *testing.T) {
		plan := PlanObjective("Build a REST API for inventory management")
		require.Len(t, plan.Phases, 3)
		assert.Equal(t, types.AgentTypeResearcher, plan.Phases[0][0].Role)
		assert.Equal(t, types.AgentTypeCoder, plan.Phases[1][0].Role)
		require.Len(t, plan.Phases[2], 2)
		assert.Equal(t, types.AgentTypeTester, plan.Phases[2][0].Role)
		assert.Equal(t, types.AgentTypeReviewer, plan.Phases[2][1].Role)
		assert.Equal(t, types.TopologyHierarchical, plan.Topology)
	})

	t.Run("research objective ends in synthesis", func(t *testing.T) {
		plan := PlanObjective("Research distributed consensus protocols")
		require.Len(t, plan.Phases, 2)
		assert.Equal(t, types.AgentTypeAnalyst, plan.Phases[1][0].Role)
		assert.Equal(t, types.TopologyMesh, plan.Topology)
	})

	t.Run("analysis objective adds an analyst to phase one", func(t *testing.T) {
		plan := PlanObjective("analyze churn data and report")
		require.Len(t, plan.Phases[0], 2)
		assert.Equal(t, types.AgentTypeAnalyst, plan.Phases[0][1].Role)
	})
}
