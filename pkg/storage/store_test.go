package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores returns every Store implementation under test
func stores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"bolt": bolt,
		"mem":  NewMemStore(),
	}
}

func TestSwarmCRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			swarm := &types.Swarm{
				ID:        "s1",
				Name:      "test-hive",
				Objective: "build something",
				Topology:  types.TopologyHierarchical,
				QueenMode: types.QueenModeCentralized,
				Status:    types.SwarmStatusInitializing,
				CreatedAt: time.Now(),
			}
			require.NoError(t, store.CreateSwarm(swarm))

			got, err := store.GetSwarm("s1")
			require.NoError(t, err)
			assert.Equal(t, swarm.Objective, got.Objective)

			got.Status = types.SwarmStatusActive
			require.NoError(t, store.UpdateSwarm(got))
			got, err = store.GetSwarm("s1")
			require.NoError(t, err)
			assert.Equal(t, types.SwarmStatusActive, got.Status)

			swarms, err := store.ListSwarms()
			require.NoError(t, err)
			assert.Len(t, swarms, 1)

			require.NoError(t, store.DeleteSwarm("s1"))
			_, err = store.GetSwarm("s1")
			assert.True(t, errors.Is(err, types.ErrUnknownEntity))
		})
	}
}

func TestAgentCRUDAndSwarmFilter(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a1 := &types.Agent{ID: "a1", SwarmID: "s1", Type: types.AgentTypeCoder, Status: types.AgentStatusIdle}
			a2 := &types.Agent{ID: "a2", SwarmID: "s2", Type: types.AgentTypeTester, Status: types.AgentStatusIdle}
			require.NoError(t, store.CreateAgent(a1))
			require.NoError(t, store.CreateAgent(a2))

			agents, err := store.ListAgents("s1")
			require.NoError(t, err)
			require.Len(t, agents, 1)
			assert.Equal(t, "a1", agents[0].ID)

			all, err := store.ListAgents("")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			_, err = store.GetAgent("missing")
			assert.True(t, errors.Is(err, types.ErrUnknownEntity))
		})
	}
}

func TestAssignTaskTransaction(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			agent := &types.Agent{ID: "a1", SwarmID: "s1", Status: types.AgentStatusIdle}
			task := &types.Task{ID: "t1", SwarmID: "s1", Description: "work", Status: types.TaskStatusPending}
			require.NoError(t, store.CreateAgent(agent))
			require.NoError(t, store.CreateTask(task))

			task.Status = types.TaskStatusAssigned
			task.AssignedAgents = []string{"a1"}
			agent.Status = types.AgentStatusBusy
			agent.CurrentTaskID = "t1"
			require.NoError(t, store.AssignTask(task, agent))

			gotTask, err := store.GetTask("t1")
			require.NoError(t, err)
			gotAgent, err := store.GetAgent("a1")
			require.NoError(t, err)
			assert.Equal(t, types.TaskStatusAssigned, gotTask.Status)
			assert.Equal(t, types.AgentStatusBusy, gotAgent.Status)
			assert.Equal(t, "t1", gotAgent.CurrentTaskID)
		})
	}
}

func TestMemoryAndNamespaces(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ns := &types.Namespace{Name: "scratch", Policy: types.RetentionPersistent, CreatedAt: time.Now()}
			require.NoError(t, store.CreateNamespace(ns))

			entry := &types.MemoryEntry{
				Namespace: "scratch",
				Key:       "k1",
				Value:     []byte("v1"),
				CreatedAt: time.Now(),
			}
			require.NoError(t, store.PutMemory(entry))

			got, err := store.GetMemory("scratch", "k1")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got.Value)

			count, err := store.CountMemory("scratch")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			entries, err := store.ListMemory("scratch", 10)
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			require.NoError(t, store.DeleteMemory("scratch", "k1"))
			_, err = store.GetMemory("scratch", "k1")
			assert.True(t, errors.Is(err, types.ErrUnknownEntity))

			nss, err := store.ListNamespaces()
			require.NoError(t, err)
			require.Len(t, nss, 1)
			assert.Equal(t, "scratch", nss[0].Name)
		})
	}
}

func TestDecisions(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			d := &types.Decision{
				ID:         "d1",
				SwarmID:    "s1",
				Topic:      "choose_db",
				Decision:   "sqlite",
				Algorithm:  types.AlgorithmMajority,
				Confidence: 0.6,
				Votes:      map[string]string{"a": "sqlite"},
				CreatedAt:  time.Now(),
			}
			require.NoError(t, store.CreateDecision(d))

			decisions, err := store.ListDecisions("s1")
			require.NoError(t, err)
			require.Len(t, decisions, 1)
			assert.Equal(t, "sqlite", decisions[0].Decision)

			none, err := store.ListDecisions("other")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStats(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateSwarm(&types.Swarm{ID: "s1"}))
			require.NoError(t, store.CreateAgent(&types.Agent{ID: "a1", SwarmID: "s1"}))
			require.NoError(t, store.CreateTask(&types.Task{ID: "t1", SwarmID: "s1"}))

			stats, err := store.Stats()
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Swarms)
			assert.Equal(t, 1, stats.Agents)
			assert.Equal(t, 1, stats.Tasks)
			assert.Equal(t, name == "bolt", stats.Durable)
		})
	}
}

func TestBoltReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreateSwarm(&types.Swarm{ID: "s1", Name: "persist"}))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetSwarm("s1")
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Name)
}
