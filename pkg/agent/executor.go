package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hivemesh/hivemind/pkg/bus"
)

// Executor runs one task assignment to completion. Implementations must
// honor ctx cancellation promptly and may stream progress in (0, 1)
// through report; the runner sends the terminal update itself.
type Executor interface {
	Execute(ctx context.Context, assignment bus.AssignmentPayload, report func(progress float64)) ([]byte, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, assignment bus.AssignmentPayload, report func(progress float64)) ([]byte, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, assignment bus.AssignmentPayload, report func(progress float64)) ([]byte, error) {
	return f(ctx, assignment, report)
}

// NoopExecutor acknowledges assignments with a structured receipt. It
// stands in wherever no real task body is plugged in, so lifecycle,
// scheduling and consensus paths run end to end.
type NoopExecutor struct {
	// Delay simulates work; zero completes immediately
	Delay time.Duration
}

// Execute implements Executor
func (e NoopExecutor) Execute(ctx context.Context, assignment bus.AssignmentPayload, report func(progress float64)) ([]byte, error) {
	if e.Delay > 0 {
		report(0.5)
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	receipt := map[string]string{
		"task_id":     assignment.TaskID,
		"description": assignment.Description,
		"strategy":    assignment.Strategy,
		"status":      "acknowledged",
	}
	out, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	return out, nil
}
