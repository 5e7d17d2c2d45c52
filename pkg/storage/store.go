package storage

import (
	"github.com/hivemesh/hivemind/pkg/types"
)

// Store defines the interface for durable hive state. BoltStore is the
// production implementation; MemStore is the degraded fallback used when
// the durable store is unavailable.
type Store interface {
	// Swarms
	CreateSwarm(swarm *types.Swarm) error
	GetSwarm(id string) (*types.Swarm, error)
	ListSwarms() ([]*types.Swarm, error)
	UpdateSwarm(swarm *types.Swarm) error
	DeleteSwarm(id string) error

	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	ListAgents(swarmID string) ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error
	DeleteAgent(id string) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks(swarmID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// AssignTask writes the task and agent mutations of an assignment in
	// one transaction. Either both records land or neither does.
	AssignTask(task *types.Task, agent *types.Agent) error

	// Memory
	PutMemory(entry *types.MemoryEntry) error
	GetMemory(namespace, key string) (*types.MemoryEntry, error)
	ListMemory(namespace string, limit int) ([]*types.MemoryEntry, error)
	ListAllMemory() ([]*types.MemoryEntry, error)
	DeleteMemory(namespace, key string) error
	CountMemory(namespace string) (int, error)

	// Namespaces
	CreateNamespace(ns *types.Namespace) error
	GetNamespace(name string) (*types.Namespace, error)
	ListNamespaces() ([]*types.Namespace, error)

	// Consensus decisions
	CreateDecision(decision *types.Decision) error
	ListDecisions(swarmID string) ([]*types.Decision, error)

	// Utility
	Stats() (*Stats, error)
	Close() error
}

// Stats summarizes store contents
type Stats struct {
	Swarms     int            `json:"swarms"`
	Agents     int            `json:"agents"`
	Tasks      int            `json:"tasks"`
	Entries    int            `json:"entries"`
	Decisions  int            `json:"decisions"`
	SizeBytes  int64          `json:"size_bytes"`
	Namespaces map[string]int `json:"namespaces"`
	Durable    bool           `json:"durable"`
}
