package storage

import (
	"fmt"
	"sync"

	"github.com/hivemesh/hivemind/pkg/types"
)

// MemStore implements Store in process memory. It honors the same
// contract as BoltStore but loses all state across restarts. The
// coordinator falls back to it when the durable store is unavailable.
type MemStore struct {
	mu         sync.RWMutex
	swarms     map[string]*types.Swarm
	agents     map[string]*types.Agent
	tasks      map[string]*types.Task
	memory     map[string]map[string]*types.MemoryEntry // namespace -> key -> entry
	namespaces map[string]*types.Namespace
	decisions  map[string]*types.Decision
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		swarms:     make(map[string]*types.Swarm),
		agents:     make(map[string]*types.Agent),
		tasks:      make(map[string]*types.Task),
		memory:     make(map[string]map[string]*types.MemoryEntry),
		namespaces: make(map[string]*types.Namespace),
		decisions:  make(map[string]*types.Decision),
	}
}

func (s *MemStore) CreateSwarm(swarm *types.Swarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *swarm
	s.swarms[swarm.ID] = &cp
	return nil
}

func (s *MemStore) GetSwarm(id string) (*types.Swarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	swarm, ok := s.swarms[id]
	if !ok {
		return nil, fmt.Errorf("swarm not found: %s: %w", id, types.ErrUnknownEntity)
	}
	cp := *swarm
	return &cp, nil
}

func (s *MemStore) ListSwarms() ([]*types.Swarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Swarm, 0, len(s.swarms))
	for _, swarm := range s.swarms {
		cp := *swarm
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) UpdateSwarm(swarm *types.Swarm) error { return s.CreateSwarm(swarm) }

func (s *MemStore) DeleteSwarm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.swarms, id)
	return nil
}

func (s *MemStore) CreateAgent(agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemStore) GetAgent(id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s: %w", id, types.ErrUnknownEntity)
	}
	cp := *agent
	return &cp, nil
}

func (s *MemStore) ListAgents(swarmID string) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Agent
	for _, agent := range s.agents {
		if swarmID == "" || agent.SwarmID == swarmID {
			cp := *agent
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateAgent(agent *types.Agent) error { return s.CreateAgent(agent) }

func (s *MemStore) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

func (s *MemStore) CreateTask(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemStore) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s: %w", id, types.ErrUnknownEntity)
	}
	cp := *task
	return &cp, nil
}

func (s *MemStore) ListTasks(swarmID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Task
	for _, task := range s.tasks {
		if swarmID == "" || task.SwarmID == swarmID {
			cp := *task
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateTask(task *types.Task) error { return s.CreateTask(task) }

func (s *MemStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemStore) AssignTask(task *types.Task, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	taskCp := *task
	agentCp := *agent
	s.tasks[task.ID] = &taskCp
	s.agents[agent.ID] = &agentCp
	return nil
}

func (s *MemStore) PutMemory(entry *types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.memory[entry.Namespace]
	if !ok {
		ns = make(map[string]*types.MemoryEntry)
		s.memory[entry.Namespace] = ns
	}
	cp := *entry
	ns[entry.Key] = &cp
	return nil
}

func (s *MemStore) GetMemory(namespace, key string) (*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.memory[namespace]
	if !ok {
		return nil, fmt.Errorf("memory entry %s/%s: %w", namespace, key, types.ErrUnknownEntity)
	}
	entry, ok := ns[key]
	if !ok {
		return nil, fmt.Errorf("memory entry %s/%s: %w", namespace, key, types.ErrUnknownEntity)
	}
	cp := *entry
	return &cp, nil
}

func (s *MemStore) ListMemory(namespace string, limit int) ([]*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, entry := range s.memory[namespace] {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListAllMemory() ([]*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, ns := range s.memory {
		for _, entry := range ns {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) DeleteMemory(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.memory[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (s *MemStore) CountMemory(namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memory[namespace]), nil
}

func (s *MemStore) CreateNamespace(ns *types.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ns
	s.namespaces[ns.Name] = &cp
	return nil
}

func (s *MemStore) GetNamespace(name string) (*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("namespace not found: %s: %w", name, types.ErrUnknownEntity)
	}
	cp := *ns
	return &cp, nil
}

func (s *MemStore) ListNamespaces() ([]*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		cp := *ns
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) CreateDecision(decision *types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *decision
	s.decisions[decision.ID] = &cp
	return nil
}

func (s *MemStore) ListDecisions(swarmID string) ([]*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Decision
	for _, d := range s.decisions {
		if swarmID == "" || d.SwarmID == swarmID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &Stats{
		Swarms:     len(s.swarms),
		Agents:     len(s.agents),
		Tasks:      len(s.tasks),
		Decisions:  len(s.decisions),
		Namespaces: make(map[string]int),
	}
	for name, ns := range s.memory {
		stats.Namespaces[name] = len(ns)
		stats.Entries += len(ns)
	}
	return stats, nil
}

func (s *MemStore) Close() error { return nil }
