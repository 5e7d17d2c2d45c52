/*
Package coordinator wires the hive together and exposes its public API.

A coordinator owns the store exclusively and builds the memory layer,
message bus, agent pool, scheduler, consensus engine and queen on top of
it. Initialize creates a swarm, seeds the queen and workers and starts
the background loops under one errgroup; Shutdown cancels outstanding
work, waits up to the drain window, persists final state and closes the
store. If the durable store cannot be opened the coordinator runs on the
in-memory fallback and reports itself degraded instead of refusing to
start.
*/
package coordinator
