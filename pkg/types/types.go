package types

import (
	"time"
)

// Swarm represents a running hive-mind instance serving one objective
type Swarm struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Objective string      `json:"objective"`
	Topology  Topology    `json:"topology"`
	QueenMode QueenMode   `json:"queen_mode"`
	Status    SwarmStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Topology defines the logical communication pattern between queen and workers
type Topology string

const (
	TopologyMesh         Topology = "mesh"
	TopologyHierarchical Topology = "hierarchical"
	TopologyRing         Topology = "ring"
	TopologyStar         Topology = "star"
)

// QueenMode defines how the queen directs the swarm
type QueenMode string

const (
	QueenModeCentralized QueenMode = "centralized"
	QueenModeDistributed QueenMode = "distributed"
	QueenModeStrategic   QueenMode = "strategic"
)

// SwarmStatus represents the lifecycle state of a swarm
type SwarmStatus string

const (
	SwarmStatusInitializing SwarmStatus = "initializing"
	SwarmStatusActive       SwarmStatus = "active"
	SwarmStatusPaused       SwarmStatus = "paused"
	SwarmStatusShuttingDown SwarmStatus = "shutting_down"
	SwarmStatusTerminated   SwarmStatus = "terminated"
)

// Agent represents a queen or worker agent in a swarm
type Agent struct {
	ID             string      `json:"id"`
	SwarmID        string      `json:"swarm_id"`
	Name           string      `json:"name"`
	Role           AgentRole   `json:"role"`
	Type           AgentType   `json:"type"`
	Status         AgentStatus `json:"status"`
	Capabilities   []string    `json:"capabilities"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
	LastActiveAt   time.Time   `json:"last_active_at"`
	LastSuccessAt  time.Time   `json:"last_success_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AgentRole defines the role of an agent
type AgentRole string

const (
	AgentRoleQueen  AgentRole = "queen"
	AgentRoleWorker AgentRole = "worker"
)

// AgentType is a named capability bundle
type AgentType string

const (
	AgentTypeQueen       AgentType = "queen"
	AgentTypeResearcher  AgentType = "researcher"
	AgentTypeCoder       AgentType = "coder"
	AgentTypeAnalyst     AgentType = "analyst"
	AgentTypeTester      AgentType = "tester"
	AgentTypeArchitect   AgentType = "architect"
	AgentTypeReviewer    AgentType = "reviewer"
	AgentTypeOptimizer   AgentType = "optimizer"
	AgentTypeDocumenter  AgentType = "documenter"
	AgentTypeCoordinator AgentType = "coordinator"
	AgentTypeSpecialist  AgentType = "specialist"
)

// AgentStatus represents the current state of an agent
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusActive  AgentStatus = "active"
	AgentStatusError   AgentStatus = "error"
	AgentStatusOffline AgentStatus = "offline"
)

// CanTransition reports whether the agent state machine permits moving
// from s to next. Offline is terminal; a retired agent is never resurrected.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	switch s {
	case AgentStatusIdle:
		return next == AgentStatusBusy || next == AgentStatusActive || next == AgentStatusOffline || next == AgentStatusError
	case AgentStatusBusy:
		return next == AgentStatusIdle || next == AgentStatusError
	case AgentStatusActive:
		return next == AgentStatusIdle || next == AgentStatusBusy || next == AgentStatusError || next == AgentStatusOffline
	case AgentStatusError:
		return next == AgentStatusOffline
	case AgentStatusOffline:
		return false
	}
	return false
}

// Task represents a unit of work submitted to the swarm
type Task struct {
	ID                   string        `json:"id"`
	SwarmID              string        `json:"swarm_id"`
	Description          string        `json:"description"`
	Priority             TaskPriority  `json:"priority"`
	Strategy             TaskStrategy  `json:"strategy"`
	Status               TaskStatus    `json:"status"`
	Dependencies         []string      `json:"dependencies,omitempty"`
	RequiredCapabilities []string      `json:"required_capabilities,omitempty"`
	MaxAgents            int           `json:"max_agents"`
	AssignedAgents       []string      `json:"assigned_agents,omitempty"`
	RequireConsensus     bool          `json:"require_consensus"`
	OnFailureSkip        bool          `json:"on_failure_skip"`
	Progress             float64       `json:"progress"`
	Result               []byte        `json:"result,omitempty"`
	Error                string        `json:"error,omitempty"`
	Retries              int           `json:"retries"`
	Attempts             int           `json:"attempts"`
	Timeout              time.Duration `json:"timeout"`
	CreatedAt            time.Time     `json:"created_at"`
	AssignedAt           time.Time     `json:"assigned_at,omitempty"`
	StartedAt            time.Time     `json:"started_at,omitempty"`
	CompletedAt          time.Time     `json:"completed_at,omitempty"`
}

// TaskPriority orders tasks in the ready queue
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Rank maps a priority to its integer rank. Higher ranks dispatch first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 5
	case PriorityHigh:
		return 8
	case PriorityCritical:
		return 10
	}
	return 5
}

// TaskStrategy defines how a task may be executed
type TaskStrategy string

const (
	StrategyParallel   TaskStrategy = "parallel"
	StrategySequential TaskStrategy = "sequential"
	StrategyAdaptive   TaskStrategy = "adaptive"
	StrategyConsensus  TaskStrategy = "consensus"
)

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether the task state machine permits moving
// from s to next. Progression is monotonic; cancelled is reachable from
// any non-terminal state. Assigned or in_progress may fall back to
// pending when an assignment transaction aborts or a retry requeues.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusAssigned
	case TaskStatusAssigned:
		return next == TaskStatusInProgress || next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusPending
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusPending
	}
	return false
}

// MemoryEntry is one namespaced key/value record in collective memory
type MemoryEntry struct {
	Namespace      string    `json:"namespace"`
	Key            string    `json:"key"`
	Value          []byte    `json:"value"`
	TTL            int64     `json:"ttl"` // seconds, 0 = persistent
	Compressed     bool      `json:"compressed"`
	Encrypted      bool      `json:"encrypted,omitempty"`
	OriginalLength int       `json:"original_length,omitempty"`
	AccessCount    int64     `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	LastAccessAt   time.Time `json:"last_access_at"`
}

// Expired reports whether the entry has passed its TTL at the given time
func (e *MemoryEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.ExpiresAt)
}

// RetentionPolicy defines how a namespace drops entries
type RetentionPolicy string

const (
	RetentionPersistent RetentionPolicy = "persistent"
	RetentionTimeBased  RetentionPolicy = "time-based"
	RetentionSizeBased  RetentionPolicy = "size-based"
)

// Namespace describes a memory namespace and its retention policy.
// The policy is fixed at creation time.
type Namespace struct {
	Name       string          `json:"name"`
	Policy     RetentionPolicy `json:"policy"`
	MaxEntries int             `json:"max_entries,omitempty"`
	TTL        int64           `json:"ttl,omitempty"` // seconds, for time-based retention
	CreatedAt  time.Time       `json:"created_at"`
}

// Proposal is a vote request carrying a topic, option set, algorithm and deadline
type Proposal struct {
	ID         string            `json:"id"`
	SwarmID    string            `json:"swarm_id"`
	Topic      string            `json:"topic"`
	Options    []string          `json:"options"`
	Algorithm  Algorithm         `json:"algorithm"`
	Deadline   time.Time         `json:"deadline"`
	Status     ProposalStatus    `json:"status"`
	Votes      map[string]string `json:"votes"` // agent id -> option
	Eligible   []string          `json:"eligible"`
	Decision   string            `json:"decision,omitempty"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
	ClosedAt   time.Time         `json:"closed_at,omitempty"`
}

// Algorithm selects the quorum rule for a proposal
type Algorithm string

const (
	AlgorithmMajority  Algorithm = "majority"
	AlgorithmWeighted  Algorithm = "weighted"
	AlgorithmByzantine Algorithm = "byzantine"
)

// ProposalStatus represents the lifecycle state of a proposal
type ProposalStatus string

const (
	ProposalOpen     ProposalStatus = "open"
	ProposalDecided  ProposalStatus = "decided"
	ProposalTimedOut ProposalStatus = "timed_out"
)

// NoConsensus is the decision recorded when byzantine agreement is not reached
const NoConsensus = "no_consensus"

// Decision is a persisted consensus outcome
type Decision struct {
	ID         string            `json:"id"`
	SwarmID    string            `json:"swarm_id"`
	ProposalID string            `json:"proposal_id"`
	Topic      string            `json:"topic"`
	Decision   string            `json:"decision"`
	Votes      map[string]string `json:"votes"`
	Algorithm  Algorithm         `json:"algorithm"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TaskAssignment is one slot in an execution plan phase
type TaskAssignment struct {
	Role                 AgentType     `json:"role"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	Responsibilities     string        `json:"responsibilities"`
	ExpectedOutput       string        `json:"expected_output"`
	Timeout              time.Duration `json:"timeout"`
	CanRunParallel       bool          `json:"can_run_parallel"`
}

// ExecutionPlan is a derived, ordered set of phases for an objective.
// Plans are not persisted as first-class entities.
type ExecutionPlan struct {
	Objective string             `json:"objective"`
	Topology  Topology           `json:"topology"`
	Phases    [][]TaskAssignment `json:"phases"`
}
