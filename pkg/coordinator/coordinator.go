package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/config"
	"github.com/hivemesh/hivemind/pkg/consensus"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/health"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/metrics"
	"github.com/hivemesh/hivemind/pkg/queen"
	"github.com/hivemesh/hivemind/pkg/scheduler"
	"github.com/hivemesh/hivemind/pkg/security"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options tune swarm creation beyond the persisted configuration
type Options struct {
	Name       string
	QueenMode  types.QueenMode
	Topology   types.Topology // empty lets the queen choose from the objective
	MaxWorkers int
	AutoScale  bool
}

// Coordinator is the public surface of the hive. It owns the store
// exclusively plus the memory, bus, pool, scheduler, consensus engine and
// queen built on top of it.
type Coordinator struct {
	cfg    *config.Config
	logger zerolog.Logger

	store   storage.Store
	memory  *memory.Memory
	bus     *bus.Bus
	broker  *events.Broker
	pool    *agent.Pool
	sched   *scheduler.Scheduler
	engine  *consensus.Engine
	queen   *queen.Queen
	tracker *health.Tracker

	collector *metrics.Collector

	mu       sync.Mutex
	swarm    *types.Swarm
	cancel   context.CancelFunc
	group    *errgroup.Group
	degraded bool
	started  bool
}

// New builds a coordinator over the configured data directory. A store
// open failure falls back to the in-memory store and flags the hive
// degraded rather than refusing to start.
func New(cfg *config.Config) (*Coordinator, error) {
	c := &Coordinator{
		cfg:     cfg,
		logger:  log.WithComponent("coordinator"),
		bus:     bus.New(),
		broker:  events.NewBroker(),
		tracker: health.NewTracker(),
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		c.logger.Error().Err(err).Msg("durable store unavailable, falling back to in-memory")
		c.store = storage.NewMemStore()
		c.degraded = true
		c.tracker.Set("store", false, "in-memory fallback: "+err.Error())
	} else {
		c.store = store
		c.tracker.Set("store", true, "durable")
	}

	mem, err := memory.New(c.store, cfg.Defaults.MemoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build memory: %w", err)
	}
	if cfg.Features.Encryption {
		key, err := security.LoadOrCreateKey(config.Dir(cfg.DataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		cipher, err := security.NewCipher(key)
		if err != nil {
			return nil, err
		}
		mem.EnableEncryption(cipher)
	}
	c.memory = mem

	c.pool = agent.NewPool(agent.Config{
		Store:       c.store,
		Bus:         c.bus,
		Broker:      c.broker,
		RetireDrain: cfg.Defaults.RetireDrain,
	})
	c.engine = consensus.New(consensus.Config{
		Store:              c.store,
		Broker:             c.broker,
		ParticipationFloor: cfg.Defaults.ParticipationFloor,
		QueenWeight:        cfg.Defaults.QueenVoteWeight,
	})
	c.tracker.Set("bus", true, "")
	c.tracker.Set("pool", true, "")
	return c, nil
}

// Degraded reports whether the hive is running on the in-memory fallback
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Events returns the event broker, mainly for tests
func (c *Coordinator) Events() *events.Broker {
	return c.broker
}

// Memory returns the collective memory layer
func (c *Coordinator) Memory() *memory.Memory {
	return c.memory
}

// Health returns the per-component health snapshot
func (c *Coordinator) Health() health.Snapshot {
	return c.tracker.Snapshot()
}

// Initialize creates a swarm and starts every background loop. One
// coordinator drives one swarm at a time.
func (c *Coordinator) Initialize(objective string, opts Options) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return "", fmt.Errorf("coordinator already initialized: %w", types.ErrInvalidRequest)
	}
	if objective == "" {
		return "", fmt.Errorf("objective required: %w", types.ErrInvalidRequest)
	}

	topology := opts.Topology
	if topology == "" {
		topology = queen.ChooseTopology(objective)
	}
	queenMode := opts.QueenMode
	if queenMode == "" {
		queenMode = types.QueenMode(c.cfg.Defaults.QueenMode)
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = c.cfg.Defaults.MaxWorkers
	}
	name := opts.Name
	if name == "" {
		name = "hive-" + uuid.New().String()[:8]
	}

	swarm := &types.Swarm{
		ID:        uuid.New().String(),
		Name:      name,
		Objective: objective,
		Topology:  topology,
		QueenMode: queenMode,
		Status:    types.SwarmStatusInitializing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.store.CreateSwarm(swarm); err != nil {
		return "", fmt.Errorf("failed to persist swarm: %w", err)
	}
	c.swarm = swarm

	c.sched = scheduler.New(scheduler.Config{
		Store:          c.store,
		Bus:            c.bus,
		Pool:           c.pool,
		Broker:         c.broker,
		Memory:         c.memory,
		SwarmID:        swarm.ID,
		HighWatermark:  c.cfg.Defaults.QueueHighWatermark,
		StealIdle:      c.cfg.Defaults.StealIdle,
		DefaultTimeout: c.cfg.Defaults.TaskTimeout,
		DefaultRetries: c.cfg.Defaults.TaskRetries,
		BackoffBase:    c.cfg.Defaults.RetryBackoffBase,
	})
	c.queen = queen.New(queen.Config{
		Store:         c.store,
		Pool:          c.pool,
		Scheduler:     c.sched,
		Memory:        c.memory,
		SwarmID:       swarm.ID,
		MaxWorkers:    maxWorkers,
		ScaleInterval: c.cfg.Defaults.AutoScaleInterval,
		RestartBudget: c.cfg.Defaults.RestartBudget,
		RestartWindow: c.cfg.Defaults.RestartWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = group

	c.broker.Start()
	c.pool.Start(gctx)

	if err := c.queen.Seed(); err != nil {
		cancel()
		c.broker.Stop()
		return "", fmt.Errorf("failed to seed swarm: %w", err)
	}
	c.engine.SetQueen(c.queen.AgentID())

	group.Go(func() error { return c.sched.Run(gctx) })
	group.Go(func() error { c.memory.Run(gctx); return nil })
	autoScale := opts.AutoScale || c.cfg.Features.AutoScale
	if autoScale {
		group.Go(func() error { return c.queen.Run(gctx) })
	}

	c.collector = metrics.NewCollector(c.store, c.bus, c.memory, swarm.ID)
	c.collector.Start()

	swarm.Status = types.SwarmStatusActive
	swarm.UpdatedAt = time.Now()
	if err := c.store.UpdateSwarm(swarm); err != nil {
		c.logger.Warn().Err(err).Msg("swarm activation persist failed")
	}

	if c.degraded {
		c.broker.Emit(events.EventDegraded, "coordinator", map[string]string{
			"reason": "durable store unavailable",
		})
	}
	c.tracker.Set("scheduler", true, "")
	c.started = true

	c.logger.Info().
		Str("swarm_id", swarm.ID).
		Str("topology", string(topology)).
		Str("queen_mode", string(queenMode)).
		Msg("swarm initialized")
	return swarm.ID, nil
}

// SubmitObjective creates a swarm for an objective and submits the tasks
// of its derived execution plan, wiring phase dependencies.
func (c *Coordinator) SubmitObjective(objective string, opts Options) (string, error) {
	swarmID, err := c.Initialize(objective, opts)
	if err != nil {
		return "", err
	}

	plan := queen.PlanObjective(objective)

	// Provision worker types the plan calls for beyond the seed mix, so no
	// phase waits on an agent type that will never exist
	agents, err := c.store.ListAgents(swarmID)
	if err != nil {
		return "", fmt.Errorf("failed to list agents: %w", err)
	}
	have := make(map[types.AgentType]bool, len(agents))
	for _, a := range agents {
		if a.Status != types.AgentStatusOffline {
			have[a.Type] = true
		}
	}
	for _, phase := range plan.Phases {
		for _, slot := range phase {
			if have[slot.Role] {
				continue
			}
			if _, err := c.pool.Spawn(swarmID, slot.Role, types.AgentRoleWorker, nil); err != nil {
				return "", fmt.Errorf("failed to provision %s: %w", slot.Role, err)
			}
			have[slot.Role] = true
		}
	}

	var prevPhase []string
	for _, phase := range plan.Phases {
		var phaseIDs []string
		for _, slot := range phase {
			task := &types.Task{
				SwarmID:              swarmID,
				Description:          slot.Responsibilities,
				Priority:             types.PriorityNormal,
				Strategy:             types.StrategyAdaptive,
				RequiredCapabilities: slot.RequiredCapabilities,
				Dependencies:         prevPhase,
				Timeout:              slot.Timeout,
				MaxAgents:            1,
			}
			if slot.CanRunParallel {
				task.Strategy = types.StrategyParallel
				task.MaxAgents = 2
			}
			if err := c.SubmitTask(task); err != nil {
				return "", fmt.Errorf("failed to submit plan task: %w", err)
			}
			phaseIDs = append(phaseIDs, task.ID)
		}
		prevPhase = phaseIDs
	}
	return swarmID, nil
}

// SubmitTask admits a task to the scheduler
func (c *Coordinator) SubmitTask(task *types.Task) error {
	c.mu.Lock()
	sched := c.sched
	started := c.started
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("coordinator not initialized: %w", types.ErrInvalidRequest)
	}
	return sched.Submit(task)
}

// CancelTask cancels a task; cancelling a settled task is a no-op
func (c *Coordinator) CancelTask(taskID string) error {
	c.mu.Lock()
	sched := c.sched
	started := c.started
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("coordinator not initialized: %w", types.ErrInvalidRequest)
	}
	return sched.Cancel(taskID)
}

// Propose opens a consensus proposal. An empty voter set defaults to
// every live agent in the swarm.
func (c *Coordinator) Propose(topic string, options []string, algorithm types.Algorithm, deadline time.Time) (*types.Proposal, error) {
	c.mu.Lock()
	swarm := c.swarm
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("coordinator not initialized: %w", types.ErrInvalidRequest)
	}

	agents, err := c.store.ListAgents(swarm.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voters: %w", err)
	}
	var eligible []string
	for _, a := range agents {
		if a.Status != types.AgentStatusOffline {
			eligible = append(eligible, a.ID)
		}
	}
	if algorithm == "" {
		algorithm = types.Algorithm(c.cfg.Defaults.ConsensusAlgorithm)
	}
	return c.engine.Propose(consensus.ProposalSpec{
		SwarmID:   swarm.ID,
		Topic:     topic,
		Options:   options,
		Algorithm: algorithm,
		Deadline:  deadline,
		Eligible:  eligible,
	})
}

// Vote records a vote on an open proposal
func (c *Coordinator) Vote(proposalID, voter, choice string) error {
	return c.engine.Vote(proposalID, voter, choice)
}

// Subscribe returns a cancellable subscription to all system events
func (c *Coordinator) Subscribe() *events.Subscription {
	return c.broker.Subscribe()
}

// Shutdown cancels outstanding work, waits up to the drain window, stops
// every loop, persists final state and closes the store.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		c.broker.Stop()
		c.bus.Close()
		return c.store.Close()
	}
	swarm := c.swarm
	sched := c.sched
	cancel := c.cancel
	group := c.group
	collector := c.collector
	c.started = false
	c.mu.Unlock()

	swarm.Status = types.SwarmStatusShuttingDown
	swarm.UpdatedAt = time.Now()
	if err := c.store.UpdateSwarm(swarm); err != nil {
		c.logger.Warn().Err(err).Msg("shutdown persist failed")
	}

	sched.CancelAll()

	drain := c.cfg.Defaults.DrainWindow
	deadline := time.NewTimer(drain)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
wait:
	for sched.InFlight() > 0 {
		select {
		case <-deadline.C:
			c.logger.Warn().Int("in_flight", sched.InFlight()).Msg("drain window elapsed, forcing shutdown")
			break wait
		case <-ctx.Done():
			break wait
		case <-tick.C:
		}
	}

	cancel()
	if err := group.Wait(); err != nil {
		c.logger.Warn().Err(err).Msg("background loop exited with error")
	}

	c.engine.Close()
	if collector != nil {
		collector.Stop()
	}
	c.pool.Shutdown()
	c.bus.Close()

	swarm.Status = types.SwarmStatusTerminated
	swarm.UpdatedAt = time.Now()
	if err := c.store.UpdateSwarm(swarm); err != nil {
		c.logger.Warn().Err(err).Msg("termination persist failed")
	}

	c.broker.Stop()
	c.logger.Info().Str("swarm_id", swarm.ID).Msg("hive shut down")
	return c.store.Close()
}
