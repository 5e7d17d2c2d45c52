package metrics

import (
	"time"

	"github.com/hivemesh/hivemind/pkg/bus"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/storage"
)

// Collector periodically snapshots store, memory and bus state into the
// Prometheus gauges. Counters owned by hot paths (scheduling, decisions)
// update inline; everything aggregate lands here.
type Collector struct {
	store   storage.Store
	bus     *bus.Bus
	memory  *memory.Memory
	swarmID string
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(store storage.Store, b *bus.Bus, mem *memory.Memory, swarmID string) *Collector {
	return &Collector{
		store:   store,
		bus:     b,
		memory:  mem,
		swarmID: swarmID,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting every 15 seconds
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgents()
	c.collectTasks()
	c.collectMemory()
	c.collectBus()
}

func (c *Collector) collectAgents() {
	agents, err := c.store.ListAgents(c.swarmID)
	if err != nil {
		return
	}
	counts := make(map[string]map[string]int)
	for _, a := range agents {
		t, s := string(a.Type), string(a.Status)
		if counts[t] == nil {
			counts[t] = make(map[string]int)
		}
		counts[t][s]++
	}
	AgentsTotal.Reset()
	for t, statuses := range counts {
		for s, n := range statuses {
			AgentsTotal.WithLabelValues(t, s).Set(float64(n))
		}
	}
}

func (c *Collector) collectTasks() {
	tasks, err := c.store.ListTasks(c.swarmID)
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	TasksTotal.Reset()
	for s, n := range counts {
		TasksTotal.WithLabelValues(s).Set(float64(n))
	}
}

func (c *Collector) collectMemory() {
	if c.memory == nil {
		return
	}
	stats, err := c.memory.Stats()
	if err != nil {
		return
	}
	MemoryEntries.Reset()
	for ns, n := range stats.Namespaces {
		MemoryEntries.WithLabelValues(ns).Set(float64(n))
	}
	MemoryCacheHits.Set(float64(stats.CacheHits))
	MemoryCacheMisses.Set(float64(stats.CacheMisses))
}

func (c *Collector) collectBus() {
	if c.bus == nil {
		return
	}
	stats := c.bus.Stats()
	BusMessagesTotal.Reset()
	for t, n := range stats.ByType {
		BusMessagesTotal.WithLabelValues(t).Set(float64(n))
	}
	BusDroppedTotal.Set(float64(stats.Dropped))
}
