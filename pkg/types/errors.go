package types

import "errors"

// Error taxonomy for the hive-mind core. Callers match with errors.Is;
// components wrap these with contextual detail using fmt.Errorf and %w.
var (
	// ErrInvalidRequest indicates malformed input from a caller
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownEntity indicates a reference to an absent swarm, agent,
	// task, proposal or namespace
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnsatisfiableCapability indicates no configured agent type covers
	// a task's required capabilities
	ErrUnsatisfiableCapability = errors.New("unsatisfiable capability")

	// ErrCyclicDependency indicates the submitted task graph contains a cycle
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrBusy indicates the task queue high watermark has been exceeded
	ErrBusy = errors.New("busy: queue high watermark exceeded")

	// ErrCapacityExceeded indicates a size-based memory namespace is full
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrQueryTimeout indicates a bus query exceeded its deadline
	ErrQueryTimeout = errors.New("query timeout")

	// ErrStoreUnavailable indicates durable store I/O failure
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSchemaIncompatible indicates the persisted schema is newer than
	// this build supports; downgrades are not allowed
	ErrSchemaIncompatible = errors.New("schema incompatible")

	// ErrInternalInvariant indicates a violated internal invariant.
	// It is fatal to the operation that observed it.
	ErrInternalInvariant = errors.New("internal invariant violated")
)
