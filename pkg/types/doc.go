/*
Package types defines the shared data model for the hive-mind coordinator.

All durable entities live here: Swarm, Agent, Task, MemoryEntry, Namespace,
Proposal and Decision, together with their status enums and the error
taxonomy used across every component. Keeping the model in one dependency-free
package lets storage, scheduler, consensus and the coordinator exchange
values without import cycles.

# State machines

Agents and tasks carry explicit state machines enforced through
CanTransition:

	Agent: idle → busy → idle        (assignment / completion)
	       idle|busy|active → error  (failure)
	       error → offline           (retirement, terminal)

	Task:  pending → assigned → in_progress → completed|failed
	       any non-terminal → cancelled

An agent is busy if and only if CurrentTaskID is set. A task's CompletedAt
is set exactly when it enters a terminal state, and a terminal task never
changes again.

# Errors

The sentinel errors in errors.go form the full error taxonomy of the
system. Components wrap them (fmt.Errorf with %w) and callers classify
with errors.Is; no component defines ad-hoc error kinds.
*/
package types
