package coordinator

import (
	"fmt"

	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/health"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/types"
)

// AgentSummary is one agent in a status snapshot
type AgentSummary struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   types.AgentType   `json:"type"`
	Status types.AgentStatus `json:"status"`
	Tasks  int               `json:"tasks_completed"`
}

// Snapshot is the full status view returned by Status
type Snapshot struct {
	Swarm        *types.Swarm      `json:"swarm"`
	Agents       []AgentSummary    `json:"agents"`
	AgentsByType map[string]int    `json:"agents_by_type"`
	TasksByState map[string]int    `json:"tasks_by_state"`
	QueueDepth   int               `json:"queue_depth"`
	Memory       *memory.Stats     `json:"memory"`
	Bus          *bus.Stats        `json:"bus"`
	Health       health.Snapshot   `json:"health"`
	Decisions    []*types.Decision `json:"decisions,omitempty"`
}

// Status returns a point-in-time snapshot of the hive
func (c *Coordinator) Status() (*Snapshot, error) {
	c.mu.Lock()
	swarm := c.swarm
	sched := c.sched
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("coordinator not initialized: %w", types.ErrInvalidRequest)
	}

	agents, err := c.store.ListAgents(swarm.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	tasks, err := c.store.ListTasks(swarm.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	memStats, err := c.memory.Stats()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	decisions, err := c.store.ListDecisions(swarm.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	snap := &Snapshot{
		Swarm:        swarm,
		AgentsByType: make(map[string]int),
		TasksByState: make(map[string]int),
		QueueDepth:   sched.Pending(),
		Memory:       memStats,
		Bus:          c.bus.Stats(),
		Health:       c.tracker.Snapshot(),
		Decisions:    decisions,
	}
	for _, a := range agents {
		snap.Agents = append(snap.Agents, AgentSummary{
			ID:     a.ID,
			Name:   a.Name,
			Type:   a.Type,
			Status: a.Status,
			Tasks:  a.TasksCompleted,
		})
		if a.Status != types.AgentStatusOffline {
			snap.AgentsByType[string(a.Type)]++
		}
	}
	for _, t := range tasks {
		snap.TasksByState[string(t.Status)]++
	}
	return snap, nil
}
