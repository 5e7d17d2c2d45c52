/*
Package storage provides durable persistence for hive-mind state.

All durable entities (swarms, agents, tasks, collective memory, namespaces,
consensus decisions) are stored in a single embedded BoltDB database with
one bucket per entity kind. Memory entries live in nested per-namespace
sub-buckets so namespace rollups and retention enforcement stay cheap.

# Schema versioning

A meta bucket records the schema version. Opening a database written by an
older build applies forward migrations in order; opening one written by a
newer build fails with ErrSchemaIncompatible. Downgrade is never supported.

# Guarantees

Every single-entity write runs in its own BoltDB transaction and is atomic.
AssignTask is the one multi-entity write: it puts the mutated task and agent
records inside a single transaction so an aborted assignment leaves neither
behind.

# Fallback

MemStore implements the same Store interface over process memory. The
coordinator switches to it when the durable store reports I/O failure,
trading durability for availability. The switch is one-way for the life of
the process.

Usage:

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		store = storage.NewMemStore() // degraded mode
	}
	defer store.Close()
*/
package storage
