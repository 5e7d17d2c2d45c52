package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSwarm = "swarm-test"

type env struct {
	store storage.Store
	bus   *bus.Bus
	pool  *agent.Pool
	sched *Scheduler
}

// newEnv wires a scheduler over in-memory storage with a running pool
func newEnv(t *testing.T, exec agent.Executor) *env {
	t.Helper()
	store := storage.NewMemStore()
	b := bus.New()
	broker := events.NewBroker()
	broker.Start()

	pool := agent.NewPool(agent.Config{
		Store:       store,
		Bus:         b,
		Broker:      broker,
		Executor:    exec,
		RetireDrain: 50 * time.Millisecond,
	})

	sched := New(Config{
		Store:          store,
		Bus:            b,
		Pool:           pool,
		Broker:         broker,
		SwarmID:        testSwarm,
		DefaultTimeout: 5 * time.Second,
		BackoffBase:    10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	go sched.Run(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Shutdown()
		broker.Stop()
		b.Close()
	})
	// Let Run register its endpoint before tests send anything
	require.Eventually(t, func() bool {
		return b.Stats().Endpoints > 0
	}, time.Second, 5*time.Millisecond)
	return &env{store: store, bus: b, pool: pool, sched: sched}
}

func (e *env) spawnWorker(t *testing.T, typ types.AgentType) *types.Agent {
	t.Helper()
	a, err := e.pool.Spawn(testSwarm, typ, types.AgentRoleWorker, nil)
	require.NoError(t, err)
	return a
}

func (e *env) waitStatus(t *testing.T, taskID string, want types.TaskStatus) *types.Task {
	t.Helper()
	var got *types.Task
	require.Eventually(t, func() bool {
		task, err := e.store.GetTask(taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
	return got
}

// flakyExecutor fails the first failFirst attempts of every task
type flakyExecutor struct {
	mu        sync.Mutex
	calls     map[string]int
	failFirst int
}

func newFlaky(failFirst int) *flakyExecutor {
	return &flakyExecutor{calls: make(map[string]int), failFirst: failFirst}
}

func (e *flakyExecutor) Execute(ctx context.Context, a bus.AssignmentPayload, report func(float64)) ([]byte, error) {
	e.mu.Lock()
	e.calls[a.TaskID]++
	n := e.calls[a.TaskID]
	e.mu.Unlock()
	if n <= e.failFirst {
		return nil, errors.New("transient failure")
	}
	return []byte(`{"ok":true}`), nil
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})

	err := e.sched.Submit(&types.Task{})
	assert.True(t, errors.Is(err, types.ErrInvalidRequest), "empty description")

	err = e.sched.Submit(&types.Task{
		Description:          "impossible",
		RequiredCapabilities: []string{"code-generation", "web-search"},
	})
	assert.True(t, errors.Is(err, types.ErrUnsatisfiableCapability))

	err = e.sched.Submit(&types.Task{
		Description:  "depends on nothing real",
		Dependencies: []string{"ghost"},
	})
	assert.True(t, errors.Is(err, types.ErrUnknownEntity))
}

func TestSubmitHighWatermark(t *testing.T) {
	store := storage.NewMemStore()
	b := bus.New()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(func() { broker.Stop(); b.Close() })

	sched := New(Config{
		Store:         store,
		Bus:           b,
		Broker:        broker,
		SwarmID:       testSwarm,
		HighWatermark: 2,
	})

	require.NoError(t, sched.Submit(&types.Task{Description: "one"}))
	require.NoError(t, sched.Submit(&types.Task{Description: "two"}))
	err := sched.Submit(&types.Task{Description: "three"})
	assert.True(t, errors.Is(err, types.ErrBusy))
	assert.Equal(t, 2, sched.Pending())
}

func TestSubmitCycleDetected(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})

	t1 := &types.Task{ID: "t1", Description: "first"}
	require.NoError(t, e.sched.Submit(t1))
	t2 := &types.Task{ID: "t2", Description: "second", Dependencies: []string{"t1"}}
	require.NoError(t, e.sched.Submit(t2))

	// A resubmitted t1 that depends on t2 closes the loop t1 -> t2 -> t1
	err := e.sched.Submit(&types.Task{ID: "t1", Description: "loop", Dependencies: []string{"t2"}})
	assert.True(t, errors.Is(err, types.ErrCyclicDependency))
}

func TestDispatchCompletesTask(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})
	worker := e.spawnWorker(t, types.AgentTypeCoder)

	task := &types.Task{Description: "implement the widget"}
	require.NoError(t, e.sched.Submit(task))

	done := e.waitStatus(t, task.ID, types.TaskStatusCompleted)
	assert.Equal(t, []string{worker.ID}, done.AssignedAgents)
	assert.InDelta(t, 1.0, done.Progress, 0.001)
	assert.NotEmpty(t, done.Result)

	// Agent is credited and returned to the pool
	require.Eventually(t, func() bool {
		a, err := e.store.GetAgent(worker.ID)
		return err == nil && a.Status == types.AgentStatusIdle && a.TasksCompleted == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, e.sched.InFlight())
}

func TestKeywordMatchedAgentPreferred(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})
	e.spawnWorker(t, types.AgentTypeCoder)
	tester := e.spawnWorker(t, types.AgentTypeTester)

	task := &types.Task{Description: "verify the checkout regression"}
	require.NoError(t, e.sched.Submit(task))

	done := e.waitStatus(t, task.ID, types.TaskStatusCompleted)
	assert.Equal(t, []string{tester.ID}, done.AssignedAgents)
}

func TestRetryAfterFailure(t *testing.T) {
	e := newEnv(t, newFlaky(1))
	e.spawnWorker(t, types.AgentTypeCoder)

	task := &types.Task{Description: "flaky job", Retries: 1}
	require.NoError(t, e.sched.Submit(task))

	done := e.waitStatus(t, task.ID, types.TaskStatusCompleted)
	assert.Equal(t, 2, done.Attempts, "one failure, one successful retry")
}

func TestFailureAfterRetriesExhausted(t *testing.T) {
	e := newEnv(t, newFlaky(100))
	e.spawnWorker(t, types.AgentTypeCoder)

	task := &types.Task{Description: "doomed job", Retries: 1}
	require.NoError(t, e.sched.Submit(task))

	done := e.waitStatus(t, task.ID, types.TaskStatusFailed)
	assert.Equal(t, 2, done.Attempts)
	assert.Contains(t, done.Error, "transient failure")
}

func TestCancelPendingTask(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})
	// No agents: the task stays pending

	task := &types.Task{Description: "never runs"}
	require.NoError(t, e.sched.Submit(task))

	require.NoError(t, e.sched.Cancel(task.ID))
	done := e.waitStatus(t, task.ID, types.TaskStatusCancelled)
	assert.Equal(t, "cancelled before dispatch", done.Error)

	// Cancelling a settled task is a no-op
	require.NoError(t, e.sched.Cancel(task.ID))

	err := e.sched.Cancel("no-such-task")
	assert.True(t, errors.Is(err, types.ErrUnknownEntity))
}

func TestCancelInProgressTask(t *testing.T) {
	blocking := agent.ExecutorFunc(func(ctx context.Context, a bus.AssignmentPayload, report func(float64)) ([]byte, error) {
		report(0.2)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEnv(t, blocking)
	worker := e.spawnWorker(t, types.AgentTypeCoder)

	task := &types.Task{Description: "long running job"}
	require.NoError(t, e.sched.Submit(task))
	e.waitStatus(t, task.ID, types.TaskStatusInProgress)

	require.NoError(t, e.sched.Cancel(task.ID))
	e.waitStatus(t, task.ID, types.TaskStatusCancelled)

	// The agent acknowledged and returns to idle, not error
	require.Eventually(t, func() bool {
		a, err := e.store.GetAgent(worker.ID)
		return err == nil && a.Status == types.AgentStatusIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDependencyOrdering(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})
	e.spawnWorker(t, types.AgentTypeCoder)

	t1 := &types.Task{ID: "dep-1", Description: "produce the artifact"}
	require.NoError(t, e.sched.Submit(t1))
	t2 := &types.Task{ID: "dep-2", Description: "consume the artifact", Dependencies: []string{"dep-1"}}
	require.NoError(t, e.sched.Submit(t2))

	first := e.waitStatus(t, "dep-1", types.TaskStatusCompleted)
	second := e.waitStatus(t, "dep-2", types.TaskStatusCompleted)
	assert.True(t, second.StartedAt.After(first.CompletedAt) || second.StartedAt.Equal(first.CompletedAt),
		"dependent must not start before its dependency settles")
}

func TestDependencyCascadeOnCancel(t *testing.T) {
	e := newEnv(t, agent.NoopExecutor{})
	// No agents: both tasks stay queued

	t1 := &types.Task{ID: "root", Description: "root work"}
	require.NoError(t, e.sched.Submit(t1))
	t2 := &types.Task{ID: "leaf", Description: "leaf work", Dependencies: []string{"root"}}
	require.NoError(t, e.sched.Submit(t2))

	require.NoError(t, e.sched.Cancel("root"))
	e.waitStatus(t, "root", types.TaskStatusCancelled)
	leaf := e.waitStatus(t, "leaf", types.TaskStatusCancelled)
	assert.Contains(t, leaf.Error, "dependency root cancelled")
}

func TestDependencyFailureSkip(t *testing.T) {
	e := newEnv(t, newFlaky(100))
	e.spawnWorker(t, types.AgentTypeCoder)

	t1 := &types.Task{ID: "fragile", Description: "doomed work", Retries: 0}
	require.NoError(t, e.sched.Submit(t1))
	skipper := &types.Task{
		ID:            "tolerant",
		Description:   "runs regardless",
		Dependencies:  []string{"fragile"},
		OnFailureSkip: true,
	}
	require.NoError(t, e.sched.Submit(skipper))
	strict := &types.Task{
		ID:           "strict",
		Description:  "needs the dependency",
		Dependencies: []string{"fragile"},
	}
	require.NoError(t, e.sched.Submit(strict))

	e.waitStatus(t, "fragile", types.TaskStatusFailed)
	e.waitStatus(t, "strict", types.TaskStatusCancelled)

	// The tolerant dependent is dispatched anyway; with a flaky executor it
	// fails too, which still proves it ran
	require.Eventually(t, func() bool {
		task, err := e.store.GetTask("tolerant")
		return err == nil && task.Attempts > 0
	}, 5*time.Second, 10*time.Millisecond)
}
