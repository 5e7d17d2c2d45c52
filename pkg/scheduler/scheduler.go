package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/events"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/metrics"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// dispatchInterval bounds how long a ready task waits when no wakeup fires
	dispatchInterval = 500 * time.Millisecond

	// defaultCancelGrace bounds the wait for cancel acknowledgement when the
	// task carries no timeout of its own
	defaultCancelGrace = 5 * time.Second
)

// Config holds scheduler configuration
type Config struct {
	Store   storage.Store
	Bus     *bus.Bus
	Pool    *agent.Pool
	Broker  *events.Broker
	Memory  *memory.Memory // optional; terminal results land in task-results
	SwarmID string

	HighWatermark  int
	StealIdle      time.Duration
	DefaultTimeout time.Duration
	DefaultRetries int
	BackoffBase    time.Duration
}

// inflight tracks a dispatched task between assignment and terminal result
type inflight struct {
	task   *types.Task
	agents map[string]struct{} // assigned agent ids
}

// cancelWait tracks an in_progress cancellation awaiting agent acks
type cancelWait struct {
	task    *types.Task
	pending map[string]struct{} // agents yet to ack
	timer   *time.Timer
}

// Scheduler turns submitted tasks into agent assignments, honoring
// dependencies, priorities, capabilities and concurrency caps. It is the
// single authority over task status; agent progress reports are advisory.
type Scheduler struct {
	store  storage.Store
	bus    *bus.Bus
	pool   *agent.Pool
	broker *events.Broker
	know   *memory.Memory
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	ready      *readyQueue
	blocked    map[string]*types.Task     // waiting on dependencies
	inflight   map[string]*inflight       // task id -> live assignment
	cancels    map[string]*cancelWait     // task id -> pending cancel
	dependents map[string][]string        // dependency id -> dependent task ids
	tasks      map[string]*types.Task     // every non-terminal task
	retryTimer map[string]*time.Timer     // task id -> pending retry
	stolen     map[string]map[string]bool // agent id -> task ids joined via stealing

	wakeCh chan struct{}
	ctx    context.Context
}

// New creates a scheduler
func New(cfg Config) *Scheduler {
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 1000
	}
	if cfg.StealIdle <= 0 {
		cfg.StealIdle = 10 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Scheduler{
		store:      cfg.Store,
		bus:        cfg.Bus,
		pool:       cfg.Pool,
		broker:     cfg.Broker,
		know:       cfg.Memory,
		cfg:        cfg,
		logger:     log.WithComponent("scheduler"),
		ready:      newReadyQueue(),
		blocked:    make(map[string]*types.Task),
		inflight:   make(map[string]*inflight),
		cancels:    make(map[string]*cancelWait),
		dependents: make(map[string][]string),
		tasks:      make(map[string]*types.Task),
		retryTimer: make(map[string]*time.Timer),
		stolen:     make(map[string]map[string]bool),
		wakeCh:     make(chan struct{}, 1),
		ctx:        context.Background(),
	}
}

// Run consumes progress reports and drives dispatch until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	inbox := s.bus.Register(agent.SchedulerEndpoint, s.cfg.SwarmID)
	defer s.bus.Unregister(agent.SchedulerEndpoint)

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return nil
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			s.handleMessage(msg)
		case <-s.wakeCh:
			s.dispatch()
		case <-ticker.C:
			s.dispatch()
			s.steal()
		}
	}
}

// Submit validates and admits a task. Validation failures reject the task
// before anything is persisted.
func (s *Scheduler) Submit(task *types.Task) error {
	if task.Description == "" {
		return fmt.Errorf("task description required: %w", types.ErrInvalidRequest)
	}
	if task.SwarmID == "" {
		task.SwarmID = s.cfg.SwarmID
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = types.PriorityNormal
	}
	if task.Strategy == "" {
		task.Strategy = types.StrategyAdaptive
	}
	if task.MaxAgents <= 0 {
		task.MaxAgents = 1
	}
	if task.Timeout <= 0 {
		task.Timeout = s.cfg.DefaultTimeout
	}
	if task.Retries == 0 {
		task.Retries = s.cfg.DefaultRetries
	}
	if !agent.Satisfiable(task.RequiredCapabilities) {
		return fmt.Errorf("no agent type covers %v: %w",
			task.RequiredCapabilities, types.ErrUnsatisfiableCapability)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingLocked() >= s.cfg.HighWatermark {
		return fmt.Errorf("queue above high watermark %d: %w",
			s.cfg.HighWatermark, types.ErrBusy)
	}
	for _, dep := range task.Dependencies {
		depTask, ok := s.tasks[dep]
		if !ok {
			stored, err := s.store.GetTask(dep)
			if err != nil {
				return fmt.Errorf("unknown dependency %s: %w", dep, types.ErrUnknownEntity)
			}
			depTask = stored
		}
		if depTask.SwarmID != task.SwarmID {
			return fmt.Errorf("dependency %s belongs to another swarm: %w", dep, types.ErrInvalidRequest)
		}
	}
	if s.hasCycleLocked(task) {
		return fmt.Errorf("task %s: %w", task.ID, types.ErrCyclicDependency)
	}

	task.Status = types.TaskStatusPending
	task.CreatedAt = time.Now()
	if err := s.store.CreateTask(task); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}

	s.tasks[task.ID] = task
	for _, dep := range task.Dependencies {
		s.dependents[dep] = append(s.dependents[dep], task.ID)
	}
	if s.depsSatisfiedLocked(task) {
		s.ready.push(task)
	} else {
		s.blocked[task.ID] = task
	}
	metrics.QueueDepth.Set(float64(s.pendingLocked()))

	s.logger.Info().
		Str("task_id", task.ID).
		Str("priority", string(task.Priority)).
		Str("strategy", string(task.Strategy)).
		Msg("task admitted")
	s.broker.Emit(events.EventTaskCreated, "scheduler", map[string]string{
		"task_id":  task.ID,
		"swarm_id": task.SwarmID,
		"priority": string(task.Priority),
	})
	s.wake()
	return nil
}

// Cancel cancels a task. Cancelling a terminal task is a no-op; cancelling
// an in_progress task waits up to the task timeout for agent acks, then
// forces the transition and marks unresponsive agents as errored.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		stored, err := s.store.GetTask(taskID)
		if err != nil {
			return fmt.Errorf("cancel %s: %w", taskID, types.ErrUnknownEntity)
		}
		if stored.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("cancel %s: task not tracked: %w", taskID, types.ErrInternalInvariant)
	}

	if task.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if _, waiting := s.cancels[taskID]; waiting {
		s.mu.Unlock()
		return nil
	}

	switch task.Status {
	case types.TaskStatusPending:
		s.ready.remove(taskID)
		delete(s.blocked, taskID)
		s.finalizeLocked(task, types.TaskStatusCancelled, nil, "cancelled before dispatch")
		s.mu.Unlock()
		return nil
	case types.TaskStatusAssigned:
		inf := s.inflight[taskID]
		if inf != nil {
			for id := range inf.agents {
				s.freeAgentLocked(id, taskID, false)
			}
		}
		s.finalizeLocked(task, types.TaskStatusCancelled, nil, "cancelled before start")
		s.mu.Unlock()
		return nil
	case types.TaskStatusInProgress:
		inf := s.inflight[taskID]
		wait := &cancelWait{task: task, pending: make(map[string]struct{})}
		if inf != nil {
			for id := range inf.agents {
				wait.pending[id] = struct{}{}
			}
		}
		grace := task.Timeout
		if grace <= 0 {
			grace = defaultCancelGrace
		}
		wait.timer = time.AfterFunc(grace, func() { s.forceCancel(taskID) })
		s.cancels[taskID] = wait
		agents := make([]string, 0, len(wait.pending))
		for id := range wait.pending {
			agents = append(agents, id)
		}
		s.mu.Unlock()

		payload := bus.Encode(bus.CancelPayload{TaskID: taskID, Reason: "cancelled by caller"})
		for _, id := range agents {
			if err := s.bus.Send(&bus.Message{
				Type:     bus.MessageCancel,
				Priority: bus.PriorityUrgent,
				From:     agent.SchedulerEndpoint,
				To:       id,
				Payload:  payload,
			}); err != nil {
				s.logger.Warn().Err(err).Str("task_id", taskID).Str("agent_id", id).
					Msg("cancel delivery failed, grace timer will force")
			}
		}
		return nil
	}
	s.mu.Unlock()
	return nil
}

// Pending returns the number of tasks not yet dispatched
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

// InFlight returns the number of dispatched, non-terminal tasks
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// PendingDescriptions snapshots descriptions of queued tasks, used for
// demand analysis when auto-scaling.
func (s *Scheduler) PendingDescriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.pendingLocked())
	for _, t := range s.ready.items {
		out = append(out, t.Description)
	}
	for _, t := range s.blocked {
		out = append(out, t.Description)
	}
	return out
}

// CancelAll cancels every non-terminal task, used during shutdown
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Cancel(id); err != nil {
			s.logger.Warn().Err(err).Str("task_id", id).Msg("cancel during shutdown failed")
		}
	}
}

// ---- dispatch ----

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// dispatch matches ready tasks against idle agents and assigns them
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Len() == 0 {
		return
	}

	idle, err := s.idleAgentsLocked()
	if err != nil {
		s.logger.Warn().Err(err).Msg("agent listing failed, dispatch deferred")
		return
	}
	if len(idle) == 0 {
		return
	}

	var unmatched []*types.Task
	for s.ready.Len() > 0 && len(idle) > 0 {
		task := s.ready.pop()
		best := s.pickAgentLocked(task, idle)
		if best < 0 {
			unmatched = append(unmatched, task)
			continue
		}
		chosen := idle[best]
		idle = append(idle[:best], idle[best+1:]...)
		if err := s.assignLocked(task, chosen); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("assignment aborted, task stays ready")
			unmatched = append(unmatched, task)
		}
	}
	for _, t := range unmatched {
		s.ready.push(t)
	}
	metrics.QueueDepth.Set(float64(s.pendingLocked()))
}

// pickAgentLocked returns the index of the best capable agent or -1.
// Ties break by keyword score, then fewest in-flight assignments, then
// most recent successful completion.
func (s *Scheduler) pickAgentLocked(task *types.Task, idle []*types.Agent) int {
	type candidate struct {
		idx      int
		score    int
		inFlight int
		success  time.Time
	}
	var cands []candidate
	for i, a := range idle {
		if !agent.Covers(a.Capabilities, task.RequiredCapabilities) {
			continue
		}
		cands = append(cands, candidate{
			idx:      i,
			score:    agent.KeywordScore(a.Type, task.Description),
			inFlight: len(s.stolen[a.ID]),
			success:  a.LastSuccessAt,
		})
	}
	if len(cands) == 0 {
		return -1
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].inFlight != cands[j].inFlight {
			return cands[i].inFlight < cands[j].inFlight
		}
		return cands[i].success.After(cands[j].success)
	})
	return cands[0].idx
}

// assignLocked runs the assignment transaction: task -> assigned, agent ->
// busy, assignment message on the bus. A failed bus delivery reverts both
// records and the task returns to ready.
func (s *Scheduler) assignLocked(task *types.Task, a *types.Agent) error {
	task.Status = types.TaskStatusAssigned
	task.AssignedAgents = []string{a.ID}
	task.AssignedAt = time.Now()
	task.Attempts++

	a.Status = types.AgentStatusBusy
	a.CurrentTaskID = task.ID
	a.LastActiveAt = time.Now()

	if err := s.store.AssignTask(task, a); err != nil {
		task.Status = types.TaskStatusPending
		task.AssignedAgents = nil
		a.Status = types.AgentStatusIdle
		a.CurrentTaskID = ""
		return fmt.Errorf("assignment transaction failed: %w", err)
	}

	msg := &bus.Message{
		Type:     bus.MessageTaskAssignment,
		Priority: bus.PriorityHigh,
		From:     agent.SchedulerEndpoint,
		To:       a.ID,
		Payload: bus.Encode(bus.AssignmentPayload{
			TaskID:      task.ID,
			SwarmID:     task.SwarmID,
			Description: task.Description,
			Strategy:    string(task.Strategy),
			TimeoutMs:   task.Timeout.Milliseconds(),
		}),
	}
	if err := s.bus.Send(msg); err != nil {
		// Revert: the agent never saw the assignment
		task.Status = types.TaskStatusPending
		task.AssignedAgents = nil
		a.Status = types.AgentStatusIdle
		a.CurrentTaskID = ""
		if revertErr := s.store.AssignTask(task, a); revertErr != nil {
			s.logger.Error().Err(revertErr).Str("task_id", task.ID).Msg("assignment revert failed")
		}
		return fmt.Errorf("assignment delivery failed: %w", err)
	}

	s.inflight[task.ID] = &inflight{
		task:   task,
		agents: map[string]struct{}{a.ID: {}},
	}

	metrics.TasksScheduledTotal.Inc()
	metrics.ScheduleLatency.Observe(time.Since(task.CreatedAt).Seconds())
	s.logger.Info().
		Str("task_id", task.ID).
		Str("agent_id", a.ID).
		Msg("task assigned")
	s.broker.Emit(events.EventTaskAssigned, "scheduler", map[string]string{
		"task_id":  task.ID,
		"agent_id": a.ID,
	})
	return nil
}

// steal adds long-idle agents to unsaturated parallel tasks
func (s *Scheduler) steal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle, err := s.idleAgentsLocked()
	if err != nil {
		return
	}
	now := time.Now()
	for _, a := range idle {
		if now.Sub(a.LastActiveAt) < s.cfg.StealIdle {
			continue
		}
		for _, inf := range s.inflight {
			task := inf.task
			if task.Strategy != types.StrategyParallel {
				continue
			}
			if len(inf.agents) >= task.MaxAgents {
				continue
			}
			if _, already := inf.agents[a.ID]; already {
				continue
			}
			if !agent.Covers(a.Capabilities, task.RequiredCapabilities) {
				continue
			}
			if err := s.joinLocked(task, inf, a); err != nil {
				s.logger.Warn().Err(err).
					Str("task_id", task.ID).
					Str("agent_id", a.ID).
					Msg("work stealing aborted")
				continue
			}
			break
		}
	}
}

// joinLocked adds an agent to an in-flight parallel task
func (s *Scheduler) joinLocked(task *types.Task, inf *inflight, a *types.Agent) error {
	task.AssignedAgents = append(task.AssignedAgents, a.ID)
	a.Status = types.AgentStatusBusy
	a.CurrentTaskID = task.ID
	a.LastActiveAt = time.Now()

	if err := s.store.AssignTask(task, a); err != nil {
		task.AssignedAgents = task.AssignedAgents[:len(task.AssignedAgents)-1]
		a.Status = types.AgentStatusIdle
		a.CurrentTaskID = ""
		return err
	}

	if err := s.bus.Send(&bus.Message{
		Type:     bus.MessageTaskAssignment,
		Priority: bus.PriorityNormal,
		From:     agent.SchedulerEndpoint,
		To:       a.ID,
		Payload: bus.Encode(bus.AssignmentPayload{
			TaskID:      task.ID,
			SwarmID:     task.SwarmID,
			Description: task.Description,
			Strategy:    string(task.Strategy),
			TimeoutMs:   task.Timeout.Milliseconds(),
			Agents:      task.AssignedAgents,
		}),
	}); err != nil {
		task.AssignedAgents = task.AssignedAgents[:len(task.AssignedAgents)-1]
		a.Status = types.AgentStatusIdle
		a.CurrentTaskID = ""
		if revertErr := s.store.AssignTask(task, a); revertErr != nil {
			s.logger.Error().Err(revertErr).Str("task_id", task.ID).Msg("steal revert failed")
		}
		return err
	}

	inf.agents[a.ID] = struct{}{}
	if s.stolen[a.ID] == nil {
		s.stolen[a.ID] = make(map[string]bool)
	}
	s.stolen[a.ID][task.ID] = true
	s.logger.Info().
		Str("task_id", task.ID).
		Str("agent_id", a.ID).
		Msg("idle agent joined parallel task")
	return nil
}

// ---- progress ----

func (s *Scheduler) handleMessage(msg *bus.Message) {
	switch msg.Type {
	case bus.MessageProgressUpdate:
		var p bus.ProgressPayload
		if err := bus.Decode(msg.Payload, &p); err != nil {
			s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("malformed progress dropped")
			return
		}
		s.handleProgress(p)
	case bus.MessageCoordination:
		if msg.Subject != "cancel_ack" {
			return
		}
		var ack bus.CancelAckPayload
		if err := bus.Decode(msg.Payload, &ack); err != nil {
			return
		}
		s.handleCancelAck(ack)
	}
}

// handleProgress applies an advisory progress report. Regressions are
// ignored; the first report moves assigned -> in_progress; a terminal
// report settles the task.
func (s *Scheduler) handleProgress(p bus.ProgressPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inf, ok := s.inflight[p.TaskID]
	if !ok {
		return // terminal or unknown; late reports are dropped
	}
	task := inf.task
	if _, assigned := inf.agents[p.AgentID]; !assigned {
		return
	}

	if task.Status == types.TaskStatusAssigned {
		task.Status = types.TaskStatusInProgress
		task.StartedAt = time.Now()
	}

	if !p.Terminal {
		if p.Progress > task.Progress {
			task.Progress = p.Progress
		}
		if err := s.store.UpdateTask(task); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("progress persist failed")
		}
		s.broker.Emit(events.EventTaskProgress, "scheduler", map[string]string{
			"task_id":  task.ID,
			"progress": fmt.Sprintf("%.2f", task.Progress),
		})
		return
	}

	// Terminal report: first one settles the task
	if _, cancelling := s.cancels[task.ID]; cancelling {
		// Cancellation in flight; treat the terminal report as the ack
		s.mu.Unlock()
		s.handleCancelAck(bus.CancelAckPayload{TaskID: task.ID, AgentID: p.AgentID})
		s.mu.Lock()
		return
	}

	if p.Success {
		task.Progress = 1.0
		task.Result = p.Result
		for id := range inf.agents {
			s.freeAgentLocked(id, task.ID, id == p.AgentID)
		}
		s.finalizeLocked(task, types.TaskStatusCompleted, p.Result, "")
		return
	}

	// Failure: retry with backoff unless the budget is spent or the
	// strategy is consensus
	for id := range inf.agents {
		s.freeAgentLocked(id, task.ID, false)
	}
	if task.Strategy != types.StrategyConsensus && task.Attempts <= task.Retries {
		s.requeueLocked(task, p.Error)
		return
	}
	s.finalizeLocked(task, types.TaskStatusFailed, nil, p.Error)
}

// requeueLocked schedules a retry with exponential backoff
func (s *Scheduler) requeueLocked(task *types.Task, lastErr string) {
	task.Status = types.TaskStatusPending
	task.AssignedAgents = nil
	task.Progress = 0
	task.Error = lastErr
	delete(s.inflight, task.ID)
	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("retry persist failed")
	}

	backoff := s.cfg.BackoffBase << uint(task.Attempts-1)
	s.logger.Info().
		Str("task_id", task.ID).
		Int("attempt", task.Attempts).
		Dur("backoff", backoff).
		Msg("task scheduled for retry")

	s.retryTimer[task.ID] = time.AfterFunc(backoff, func() {
		s.mu.Lock()
		delete(s.retryTimer, task.ID)
		if t, ok := s.tasks[task.ID]; ok && t.Status == types.TaskStatusPending {
			s.ready.push(t)
		}
		s.mu.Unlock()
		s.wake()
	})
}

// ---- cancellation ----

func (s *Scheduler) handleCancelAck(ack bus.CancelAckPayload) {
	s.mu.Lock()
	wait, ok := s.cancels[ack.TaskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(wait.pending, ack.AgentID)
	s.freeAgentLocked(ack.AgentID, ack.TaskID, false)
	if len(wait.pending) > 0 {
		s.mu.Unlock()
		return
	}
	wait.timer.Stop()
	delete(s.cancels, ack.TaskID)
	s.finalizeLocked(wait.task, types.TaskStatusCancelled, nil, "cancelled by caller")
	s.mu.Unlock()
}

// forceCancel settles an unacknowledged cancel at the grace deadline.
// Agents that never acked are marked errored.
func (s *Scheduler) forceCancel(taskID string) {
	s.mu.Lock()
	wait, ok := s.cancels[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.cancels, taskID)
	unacked := make([]string, 0, len(wait.pending))
	for id := range wait.pending {
		unacked = append(unacked, id)
	}
	s.finalizeLocked(wait.task, types.TaskStatusCancelled, nil, "cancel unacknowledged at grace deadline")
	s.mu.Unlock()

	for _, id := range unacked {
		if err := s.pool.MarkError(id, "cancel unacknowledged"); err != nil {
			s.logger.Warn().Err(err).Str("agent_id", id).Msg("error transition failed")
		}
	}
}

// ---- terminal bookkeeping ----

// finalizeLocked commits a terminal status, persists the task, unblocks or
// cascades to dependents and emits the matching event.
func (s *Scheduler) finalizeLocked(task *types.Task, status types.TaskStatus, result []byte, errMsg string) {
	if !task.Status.CanTransition(status) {
		s.logger.Error().
			Str("task_id", task.ID).
			Str("from", string(task.Status)).
			Str("to", string(status)).
			Msg("illegal task transition suppressed")
		return
	}
	task.Status = status
	task.Error = errMsg
	if result != nil {
		task.Result = result
	}
	task.CompletedAt = time.Now()
	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("terminal persist failed")
	}

	delete(s.inflight, task.ID)
	delete(s.tasks, task.ID)
	if t, ok := s.retryTimer[task.ID]; ok {
		t.Stop()
		delete(s.retryTimer, task.ID)
	}

	switch status {
	case types.TaskStatusCompleted:
		s.recordResultLocked(task)
		s.broker.Emit(events.EventTaskCompleted, "scheduler", map[string]string{"task_id": task.ID})
	case types.TaskStatusFailed:
		metrics.TasksFailedTotal.Inc()
		s.broker.Emit(events.EventTaskFailed, "scheduler", map[string]string{
			"task_id": task.ID,
			"error":   errMsg,
		})
	case types.TaskStatusCancelled:
		s.broker.Emit(events.EventTaskCancelled, "scheduler", map[string]string{"task_id": task.ID})
	}
	s.logger.Info().Str("task_id", task.ID).Str("status", string(status)).Msg("task settled")

	s.settleDependentsLocked(task, status)
	metrics.QueueDepth.Set(float64(s.pendingLocked()))
	s.wake()
}

// settleDependentsLocked unblocks dependents whose dependencies are all
// satisfied, and cascades cancellation to dependents that can never run.
func (s *Scheduler) settleDependentsLocked(task *types.Task, status types.TaskStatus) {
	deps := s.dependents[task.ID]
	delete(s.dependents, task.ID)

	for _, depID := range deps {
		dependent, ok := s.blocked[depID]
		if !ok {
			continue
		}
		switch status {
		case types.TaskStatusCompleted:
			if s.depsSatisfiedLocked(dependent) {
				delete(s.blocked, depID)
				s.ready.push(dependent)
			}
		case types.TaskStatusFailed:
			if dependent.OnFailureSkip {
				if s.depsSatisfiedLocked(dependent) {
					delete(s.blocked, depID)
					s.ready.push(dependent)
				}
				continue
			}
			delete(s.blocked, depID)
			s.finalizeLocked(dependent, types.TaskStatusCancelled,
				nil, fmt.Sprintf("dependency %s failed", task.ID))
		case types.TaskStatusCancelled:
			delete(s.blocked, depID)
			s.finalizeLocked(dependent, types.TaskStatusCancelled,
				nil, fmt.Sprintf("dependency %s cancelled", task.ID))
		}
	}
}

// recordResultLocked writes a completed task's result to collective memory
func (s *Scheduler) recordResultLocked(task *types.Task) {
	if s.know == nil || len(task.Result) == 0 {
		return
	}
	if err := s.know.Store(memory.NamespaceTaskResults, task.ID, task.Result, 0); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("task result not recorded")
	}
}

// freeAgentLocked returns an agent to idle after its task settles
func (s *Scheduler) freeAgentLocked(agentID, taskID string, success bool) {
	if set, ok := s.stolen[agentID]; ok {
		delete(set, taskID)
		if len(set) == 0 {
			delete(s.stolen, agentID)
		}
	}
	a, err := s.store.GetAgent(agentID)
	if err != nil {
		return
	}
	if a.CurrentTaskID != taskID || a.Status != types.AgentStatusBusy {
		return
	}
	a.Status = types.AgentStatusIdle
	a.CurrentTaskID = ""
	a.LastActiveAt = time.Now()
	if success {
		a.TasksCompleted++
		a.LastSuccessAt = time.Now()
	}
	if err := s.store.UpdateAgent(a); err != nil {
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("agent release persist failed")
	}
}

// ---- helpers ----

func (s *Scheduler) pendingLocked() int {
	return s.ready.Len() + len(s.blocked)
}

func (s *Scheduler) idleAgentsLocked() ([]*types.Agent, error) {
	agents, err := s.store.ListAgents(s.cfg.SwarmID)
	if err != nil {
		return nil, err
	}
	var idle []*types.Agent
	for _, a := range agents {
		if a.Status == types.AgentStatusIdle && a.Role == types.AgentRoleWorker {
			idle = append(idle, a)
		}
	}
	return idle, nil
}

func (s *Scheduler) depsSatisfiedLocked(task *types.Task) bool {
	for _, dep := range task.Dependencies {
		if _, live := s.tasks[dep]; live {
			return false
		}
		stored, err := s.store.GetTask(dep)
		if err != nil {
			return false
		}
		switch stored.Status {
		case types.TaskStatusCompleted:
		case types.TaskStatusFailed:
			if !task.OnFailureSkip {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// hasCycleLocked runs DFS from the candidate over the dependency graph.
// Dependencies reference existing tasks, so a cycle requires the candidate
// to appear in its own transitive closure.
func (s *Scheduler) hasCycleLocked(candidate *types.Task) bool {
	seen := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == candidate.ID {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		t, ok := s.tasks[id]
		if !ok {
			return false
		}
		for _, dep := range t.Dependencies {
			if visit(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range candidate.Dependencies {
		if visit(dep) {
			return true
		}
	}
	return false
}

func (s *Scheduler) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.retryTimer {
		t.Stop()
		delete(s.retryTimer, id)
	}
	for id, w := range s.cancels {
		w.timer.Stop()
		delete(s.cancels, id)
	}
}
