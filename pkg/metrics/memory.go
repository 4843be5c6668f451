package metrics

import (
	"context"
	"sync"
)

// MemoryCollector keeps counters in process memory. Suitable for single-node
// deployments and tests.
type MemoryCollector struct {
	mu       sync.Mutex
	counters map[string]*LogMetrics
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		counters: make(map[string]*LogMetrics),
	}
}

func (c *MemoryCollector) entry(executionID string) *LogMetrics {
	entry, ok := c.counters[executionID]
	if !ok {
		entry = &LogMetrics{}
		c.counters[executionID] = entry
	}

	return entry
}

func (c *MemoryCollector) IncrTransitions(_ context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry(executionID).Transitions++

	return nil
}

func (c *MemoryCollector) IncrEvents(_ context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry(executionID).Events++

	return nil
}

func (c *MemoryCollector) IncrTaskRuns(_ context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry(executionID).TaskRuns++

	return nil
}

func (c *MemoryCollector) Snapshot(_ context.Context, executionID string) (LogMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counters[executionID]
	if !ok {
		return LogMetrics{}, nil
	}

	return *entry, nil
}

func (c *MemoryCollector) Reset(_ context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counters, executionID)

	return nil
}
