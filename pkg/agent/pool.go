package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
)

// SchedulerEndpoint is the bus endpoint agents report progress to
const SchedulerEndpoint = "scheduler"

// DefaultRetireDrain bounds how long retirement waits for pending messages
const DefaultRetireDrain = 5 * time.Second

// Pool manages agent lifecycle: spawn, retire, and the per-agent runner
// goroutines that execute assigned work.
type Pool struct {
	store       storage.Store
	bus         *bus.Bus
	broker      *events.Broker
	executor    Executor
	retireDrain time.Duration
	logger      zerolog.Logger

	mu      sync.RWMutex
	runners map[string]*runner
	ctx     context.Context
	wg      sync.WaitGroup
}

// Config holds pool configuration
type Config struct {
	Store       storage.Store
	Bus         *bus.Bus
	Broker      *events.Broker
	Executor    Executor
	RetireDrain time.Duration
}

// NewPool creates an agent pool
func NewPool(cfg Config) *Pool {
	if cfg.Executor == nil {
		cfg.Executor = NoopExecutor{}
	}
	if cfg.RetireDrain <= 0 {
		cfg.RetireDrain = DefaultRetireDrain
	}
	return &Pool{
		store:       cfg.Store,
		bus:         cfg.Bus,
		broker:      cfg.Broker,
		executor:    cfg.Executor,
		retireDrain: cfg.RetireDrain,
		logger:      log.WithComponent("pool"),
		runners:     make(map[string]*runner),
		ctx:         context.Background(),
	}
}

// Start binds the pool's runners to a root context. Runners spawned
// afterwards stop when the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

// Spawn creates a new agent of the given type, persists it idle, registers
// a bus endpoint and starts its runner. Custom capabilities extend the
// type's bundle; they never shrink it.
func (p *Pool) Spawn(swarmID string, t types.AgentType, role types.AgentRole, extra []string) (*types.Agent, error) {
	caps := CapabilitiesFor(t)
	if role == types.AgentRoleQueen {
		caps = CapabilitiesFor(types.AgentTypeQueen)
	}
	caps = append(caps, extra...)

	agent := &types.Agent{
		ID:           uuid.New().String(),
		SwarmID:      swarmID,
		Name:         fmt.Sprintf("%s-%s", t, uuid.New().String()[:8]),
		Role:         role,
		Type:         t,
		Status:       types.AgentStatusIdle,
		Capabilities: caps,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}

	if err := p.store.CreateAgent(agent); err != nil {
		return nil, fmt.Errorf("failed to persist agent: %w", err)
	}

	inbox := p.bus.Register(agent.ID, swarmID)

	p.mu.Lock()
	r := newRunner(p, agent.ID, swarmID, inbox)
	p.runners[agent.ID] = r
	ctx := p.ctx
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		r.run(ctx)
	}()

	p.logger.Info().
		Str("agent_id", agent.ID).
		Str("type", string(t)).
		Str("swarm_id", swarmID).
		Msg("agent spawned")
	p.broker.Emit(events.EventAgentSpawned, "pool", map[string]string{
		"agent_id": agent.ID,
		"type":     string(t),
		"swarm_id": swarmID,
	})

	return agent, nil
}

// Retire transitions an agent to offline and removes its bus endpoint
// after draining pending messages. Retirement is terminal; a respawn gets
// a fresh identifier.
func (p *Pool) Retire(agentID string) error {
	agent, err := p.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if agent.Status == types.AgentStatusOffline {
		return nil
	}
	if !agent.Status.CanTransition(types.AgentStatusOffline) {
		return fmt.Errorf("agent %s cannot retire from %s: %w",
			agentID, agent.Status, types.ErrInvalidRequest)
	}

	if !p.bus.Drain(agentID, p.retireDrain) {
		p.logger.Warn().Str("agent_id", agentID).Msg("retire drain deadline hit, messages dropped")
	}

	p.mu.Lock()
	if r, ok := p.runners[agentID]; ok {
		r.stop()
		delete(p.runners, agentID)
	}
	p.mu.Unlock()

	p.bus.Unregister(agentID)

	agent.Status = types.AgentStatusOffline
	agent.CurrentTaskID = ""
	if err := p.store.UpdateAgent(agent); err != nil {
		return err
	}

	p.logger.Info().Str("agent_id", agentID).Msg("agent retired")
	p.broker.Emit(events.EventAgentRetired, "pool", map[string]string{
		"agent_id": agentID,
		"type":     string(agent.Type),
		"swarm_id": agent.SwarmID,
	})
	return nil
}

// MarkError moves an agent into the error state. Error agents stop
// receiving work; the queen decides whether to replace them.
func (p *Pool) MarkError(agentID, reason string) error {
	agent, err := p.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if !agent.Status.CanTransition(types.AgentStatusError) {
		return nil
	}
	agent.Status = types.AgentStatusError
	agent.CurrentTaskID = ""
	if err := p.store.UpdateAgent(agent); err != nil {
		return err
	}
	p.logger.Warn().Str("agent_id", agentID).Str("reason", reason).Msg("agent errored")
	p.broker.Emit(events.EventErrorOccurred, "pool", map[string]string{
		"agent_id": agentID,
		"reason":   reason,
	})
	return nil
}

// ListBySwarm returns all agents of a swarm
func (p *Pool) ListBySwarm(swarmID string) ([]*types.Agent, error) {
	return p.store.ListAgents(swarmID)
}

// Size returns the number of live (non-offline) agents in a swarm
func (p *Pool) Size(swarmID string) (int, error) {
	agents, err := p.store.ListAgents(swarmID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range agents {
		if a.Status != types.AgentStatusOffline {
			n++
		}
	}
	return n, nil
}

// Shutdown retires every live agent and waits for runners to exit
func (p *Pool) Shutdown() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.runners))
	for id := range p.runners {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Retire(id); err != nil {
			p.logger.Warn().Err(err).Str("agent_id", id).Msg("retire during shutdown failed")
		}
	}
	p.wg.Wait()
}
