package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/rs/zerolog"
)

// runner is the per-agent goroutine consuming the bus inbox. Assignments
// execute in a child goroutine so cancel messages are observed while a
// task is running.
type runner struct {
	pool    *Pool
	agentID string
	swarmID string
	inbox   <-chan *bus.Message
	logger  zerolog.Logger

	stopCh chan struct{}
	once   sync.Once

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // task id -> cancel for in-flight work
	wg      sync.WaitGroup
}

func newRunner(p *Pool, agentID, swarmID string, inbox <-chan *bus.Message) *runner {
	return &runner{
		pool:    p,
		agentID: agentID,
		swarmID: swarmID,
		inbox:   inbox,
		logger:  log.WithAgentID(agentID),
		stopCh:  make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (r *runner) stop() {
	r.once.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *runner) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.stop()
			return
		case <-r.stopCh:
			return
		case msg, ok := <-r.inbox:
			if !ok {
				return
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *runner) handle(ctx context.Context, msg *bus.Message) {
	switch msg.Type {
	case bus.MessageTaskAssignment:
		var p bus.AssignmentPayload
		if err := bus.Decode(msg.Payload, &p); err != nil {
			r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("malformed assignment dropped")
			return
		}
		r.startTask(ctx, p)
	case bus.MessageCancel:
		var p bus.CancelPayload
		if err := bus.Decode(msg.Payload, &p); err != nil {
			r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("malformed cancel dropped")
			return
		}
		r.cancelTask(p, msg.From)
	case bus.MessageQuery:
		// Agents answer status queries with their id; richer protocols
		// layer on top via subjects.
		r.pool.bus.Respond(&bus.Message{
			From:          r.agentID,
			To:            msg.From,
			CorrelationID: msg.CorrelationID,
			Payload:       []byte(`{"agent_id":"` + r.agentID + `"}`),
		})
	default:
		// broadcasts, notifications and channel traffic carry no
		// runner-side behavior
	}
}

// startTask launches the executor for an assignment. The task context is
// bounded by the assignment timeout and cancellable via a cancel message.
func (r *runner) startTask(parent context.Context, p bus.AssignmentPayload) {
	taskCtx, cancel := context.WithCancel(parent)
	if p.TimeoutMs > 0 {
		taskCtx, cancel = context.WithTimeout(parent, time.Duration(p.TimeoutMs)*time.Millisecond)
	}

	r.mu.Lock()
	r.cancels[p.TaskID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, p.TaskID)
			r.mu.Unlock()
			cancel()
		}()

		report := func(progress float64) {
			r.sendProgress(bus.ProgressPayload{
				TaskID:   p.TaskID,
				AgentID:  r.agentID,
				Progress: progress,
			})
		}

		result, err := r.pool.executor.Execute(taskCtx, p, report)

		terminal := bus.ProgressPayload{
			TaskID:   p.TaskID,
			AgentID:  r.agentID,
			Progress: 1.0,
			Terminal: true,
			Success:  err == nil,
			Result:   result,
		}
		if err != nil {
			terminal.Error = err.Error()
			if taskCtx.Err() == context.DeadlineExceeded {
				terminal.Error = "task timed out: " + err.Error()
			}
		}
		r.sendProgress(terminal)
	}()
}

// cancelTask cancels in-flight work and acknowledges the cancel. A cancel
// for an unknown task still acks so the grace-period check upstream passes.
func (r *runner) cancelTask(p bus.CancelPayload, replyTo string) {
	r.mu.Lock()
	cancel, ok := r.cancels[p.TaskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}

	ack := bus.CancelAckPayload{TaskID: p.TaskID, AgentID: r.agentID}
	if err := r.pool.bus.Send(&bus.Message{
		Type:     bus.MessageCoordination,
		Priority: bus.PriorityUrgent,
		From:     r.agentID,
		To:       replyTo,
		Subject:  "cancel_ack",
		Payload:  bus.Encode(ack),
	}); err != nil {
		r.logger.Warn().Err(err).Str("task_id", p.TaskID).Msg("cancel ack delivery failed")
	}
}

func (r *runner) sendProgress(p bus.ProgressPayload) {
	if err := r.pool.bus.Send(&bus.Message{
		Type:     bus.MessageProgressUpdate,
		Priority: bus.PriorityHigh,
		From:     r.agentID,
		To:       SchedulerEndpoint,
		Payload:  bus.Encode(p),
	}); err != nil {
		r.logger.Warn().Err(err).Str("task_id", p.TaskID).Msg("progress delivery failed")
	}
}
