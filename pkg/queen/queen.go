package queen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/scheduler"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds queen configuration
type Config struct {
	Store     storage.Store
	Pool      *agent.Pool
	Scheduler *scheduler.Scheduler
	Memory    *memory.Memory // optional; scaling decisions land in performance-metrics
	SwarmID   string

	MaxWorkers    int
	ScaleInterval time.Duration
	RestartBudget int           // replacement spawns per rolling window
	RestartWindow time.Duration // rolling window for the restart budget
}

// Queen directs a swarm: it chooses the topology, seeds the worker pool,
// auto-scales on queue pressure and replaces errored agents within a
// restart budget.
type Queen struct {
	store  storage.Store
	pool   *agent.Pool
	sched  *scheduler.Scheduler
	know   *memory.Memory
	cfg    Config
	logger zerolog.Logger

	agentID string // the queen's own agent record

	mu       sync.Mutex
	restarts []time.Time // replacement spawn timestamps inside the window
}

// seedMix is the default initial worker mix
var seedMix = []types.AgentType{
	types.AgentTypeResearcher,
	types.AgentTypeCoder,
	types.AgentTypeAnalyst,
	types.AgentTypeTester,
}

// New creates a queen
func New(cfg Config) *Queen {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.ScaleInterval <= 0 {
		cfg.ScaleInterval = 10 * time.Second
	}
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = 5
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = time.Minute
	}
	return &Queen{
		store:  cfg.Store,
		pool:   cfg.Pool,
		sched:  cfg.Scheduler,
		know:   cfg.Memory,
		cfg:    cfg,
		logger: log.WithComponent("queen"),
	}
}

// AgentID returns the queen's agent id, set by Seed
func (q *Queen) AgentID() string {
	return q.agentID
}

// ChooseTopology picks a communication topology from objective keywords
func ChooseTopology(objective string) types.Topology {
	obj := strings.ToLower(objective)
	switch {
	case containsAny(obj, "research", "analysis", "analyze", "investigate", "study"):
		return types.TopologyMesh
	case containsAny(obj, "build", "develop", "implement", "create", "construct"):
		return types.TopologyHierarchical
	case containsAny(obj, "monitor", "maintain", "watch", "observe"):
		return types.TopologyRing
	case containsAny(obj, "coordinate", "orchestrate", "manage", "organize"):
		return types.TopologyStar
	default:
		return types.TopologyHierarchical
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Seed spawns the queen itself and the initial worker mix, capped by
// max_workers
func (q *Queen) Seed() error {
	queenAgent, err := q.pool.Spawn(q.cfg.SwarmID, types.AgentTypeQueen, types.AgentRoleQueen, nil)
	if err != nil {
		return fmt.Errorf("failed to spawn queen: %w", err)
	}
	q.agentID = queenAgent.ID

	for i, t := range seedMix {
		if i >= q.cfg.MaxWorkers {
			break
		}
		if _, err := q.pool.Spawn(q.cfg.SwarmID, t, types.AgentRoleWorker, nil); err != nil {
			return fmt.Errorf("failed to seed %s: %w", t, err)
		}
	}
	return nil
}

// Run drives the auto-scale and recovery loop until ctx is cancelled
func (q *Queen) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := q.recover(); err != nil {
				q.logger.Warn().Err(err).Msg("recovery pass failed")
			}
			if err := q.Scale(); err != nil {
				q.logger.Warn().Err(err).Msg("scaling pass failed")
			}
		}
	}
}

// Scale runs one auto-scaling decision: spawn the most-demanded worker
// type under queue pressure, retire the least-recently-used idle worker
// when the pool runs cold.
func (q *Queen) Scale() error {
	workers, idle, err := q.workers()
	if err != nil {
		return err
	}
	pending := q.sched.Pending()

	switch {
	case pending > 2*len(idle) && len(workers) < q.cfg.MaxWorkers:
		demanded := agent.MostDemandedType(q.sched.PendingDescriptions())
		a, err := q.pool.Spawn(q.cfg.SwarmID, demanded, types.AgentRoleWorker, nil)
		if err != nil {
			return fmt.Errorf("scale up failed: %w", err)
		}
		q.logger.Info().
			Str("agent_id", a.ID).
			Str("type", string(demanded)).
			Int("pending", pending).
			Int("idle", len(idle)).
			Msg("scaled up")
		q.recordScaling("scale_up", string(demanded), pending, len(idle))

	case len(idle) > pending+2 && len(workers) > 2:
		victim := lruIdle(idle)
		if victim == nil {
			return nil
		}
		if err := q.pool.Retire(victim.ID); err != nil {
			return fmt.Errorf("scale down failed: %w", err)
		}
		q.logger.Info().
			Str("agent_id", victim.ID).
			Str("type", string(victim.Type)).
			Msg("scaled down")
		q.recordScaling("scale_down", string(victim.Type), pending, len(idle))
	}
	return nil
}

// recover replaces errored agents with fresh ones of the same type,
// bounded by the restart budget per rolling window
func (q *Queen) recover() error {
	agents, err := q.store.ListAgents(q.cfg.SwarmID)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.Status != types.AgentStatusError {
			continue
		}
		if !q.spendRestart() {
			q.logger.Warn().
				Str("agent_id", a.ID).
				Msg("restart budget exhausted, errored agent left retired")
			if err := q.pool.Retire(a.ID); err != nil {
				q.logger.Warn().Err(err).Str("agent_id", a.ID).Msg("retire failed")
			}
			continue
		}
		if err := q.pool.Retire(a.ID); err != nil {
			q.logger.Warn().Err(err).Str("agent_id", a.ID).Msg("retire of errored agent failed")
			continue
		}
		replacement, err := q.pool.Spawn(q.cfg.SwarmID, a.Type, types.AgentRoleWorker, nil)
		if err != nil {
			return fmt.Errorf("replacement spawn failed: %w", err)
		}
		q.logger.Info().
			Str("failed_agent", a.ID).
			Str("replacement", replacement.ID).
			Str("type", string(a.Type)).
			Msg("errored agent replaced")
	}
	return nil
}

// spendRestart consumes one slot of the rolling restart budget
func (q *Queen) spendRestart() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.cfg.RestartWindow)
	kept := q.restarts[:0]
	for _, t := range q.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.restarts = kept
	if len(q.restarts) >= q.cfg.RestartBudget {
		return false
	}
	q.restarts = append(q.restarts, time.Now())
	return true
}

// workers returns the live worker set and its idle subset
func (q *Queen) workers() ([]*types.Agent, []*types.Agent, error) {
	agents, err := q.store.ListAgents(q.cfg.SwarmID)
	if err != nil {
		return nil, nil, err
	}
	var workers, idle []*types.Agent
	for _, a := range agents {
		if a.Role != types.AgentRoleWorker || a.Status == types.AgentStatusOffline {
			continue
		}
		workers = append(workers, a)
		if a.Status == types.AgentStatusIdle {
			idle = append(idle, a)
		}
	}
	return workers, idle, nil
}

// lruIdle picks the idle worker with the oldest last activity
func lruIdle(idle []*types.Agent) *types.Agent {
	var oldest *types.Agent
	for _, a := range idle {
		if oldest == nil || a.LastActiveAt.Before(oldest.LastActiveAt) {
			oldest = a
		}
	}
	return oldest
}

// recordScaling writes a scaling decision to collective memory
func (q *Queen) recordScaling(action, agentType string, pending, idle int) {
	if q.know == nil {
		return
	}
	key := fmt.Sprintf("scaling/%d", time.Now().UnixMilli())
	val := []byte(fmt.Sprintf(`{"action":%q,"type":%q,"pending":%d,"idle":%d}`,
		action, agentType, pending, idle))
	if err := q.know.Store(memory.NamespacePerformance, key, val, 0); err != nil {
		q.logger.Warn().Err(err).Msg("scaling decision not recorded")
	}
}
