package health

import (
	"sync"
	"time"
)

// Status is the aggregate health of the coordinator
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Component is one tracked subsystem
type Component struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// Snapshot is a point-in-time view of tracker state
type Snapshot struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	Uptime     string      `json:"uptime"`
}

// Tracker records per-component health. Any unhealthy component degrades
// the aggregate; an empty tracker is healthy.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]Component
	started    time.Time
}

// NewTracker creates a tracker
func NewTracker() *Tracker {
	return &Tracker{
		components: make(map[string]Component),
		started:    time.Now(),
	}
}

// Set records a component's health
func (t *Tracker) Set(name string, healthy bool, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.components[name] = Component{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Snapshot returns the aggregate status and component list
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Status: StatusHealthy,
		Uptime: time.Since(t.started).Round(time.Second).String(),
	}
	for _, c := range t.components {
		snap.Components = append(snap.Components, c)
		if !c.Healthy {
			snap.Status = StatusDegraded
		}
	}
	return snap
}
