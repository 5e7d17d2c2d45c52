/*
Package agent implements the worker pool of the hive.

Every agent is a named capability bundle with a small state machine:
idle -> busy -> idle on normal work, busy -> error on failure, error ->
offline when retired. Offline is terminal. The pool owns spawn and
retire; each live agent gets a bus endpoint and a runner goroutine that
consumes assignments, executes them through the configured Executor and
reports progress back to the scheduler endpoint.

Capability bundles are immutable per type. Spawning with custom
capabilities extends the type's bundle, never shrinks it, so capability
matching stays predictable.
*/
package agent
