/*
Package scheduler turns submitted tasks into agent assignments.

Admission validates the task, resolves dependencies against existing
tasks, rejects cycles and unsatisfiable capability sets, and applies
high-watermark backpressure. Ready tasks queue by (priority desc,
created_at asc) and match against idle agents whose capability set
covers the task's requirements; ties break by keyword score against the
task description, fewest in-flight assignments, then most recent
success.

Assignment is transactional: the task flips to assigned and the agent to
busy in one store write, then the assignment message goes out on the
bus. A failed delivery reverts both records and the task returns to
ready. The scheduler is the sole authority over task status; agent
progress reports are advisory. Work stealing adds long-idle agents to
unsaturated parallel tasks. Failed tasks retry with exponential backoff
up to their retry budget, except consensus-strategy tasks. Cancellation
is idempotent, with a grace period for in-progress work; agents that
never acknowledge a cancel are marked errored.
*/
package scheduler
