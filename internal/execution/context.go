package execution

import (
	"sync"
	"time"

	"nodeflow/internal/models"
)

// ExecutionContext holds the mutable state of one run: the shared variable
// store, the append-only log sink, and the data-flow history. One instance
// exists per run and is discarded when the run ends; concurrent runs never
// share a context.
//
// Node executes receive the context by reference, so a mutex guards the
// maps even though the engine itself dispatches nodes one at a time — the
// sandbox console forwarder and websocket readers touch it from other
// goroutines.
type ExecutionContext struct {
	mu        sync.RWMutex
	variables map[string]any
	internal  map[string]any // engine bookkeeping, never exposed in snapshots
	logs      []models.LogEntry
	history   []models.DataFlowEvent
}

// NewExecutionContext creates a context seeded with the given initial
// variables (workflow variable defaults merged under run input).
func NewExecutionContext(initial map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &ExecutionContext{variables: vars}
}

// GetVariable returns the last-known value for a key.
func (c *ExecutionContext) GetVariable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// SetVariable stores a value under a key (node id or named key).
func (c *ExecutionContext) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// GetInternal reads a run-private bookkeeping value. Internal state never
// appears in Variables snapshots or template scopes.
func (c *ExecutionContext) GetInternal(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.internal[key]
	return v, ok
}

// SetInternal stores a run-private bookkeeping value.
func (c *ExecutionContext) SetInternal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal == nil {
		c.internal = make(map[string]any)
	}
	c.internal[key] = value
}

// Variables returns a snapshot copy of the variable store.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		snapshot[k] = v
	}
	return snapshot
}

// AddLog appends an entry to the run's log sink. Every recorded error goes
// through here so nothing is dropped silently.
func (c *ExecutionContext) AddLog(level, message, nodeID string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, models.LogEntry{
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Logs returns a snapshot of the log entries in append order.
func (c *ExecutionContext) Logs() []models.LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// RecordDataFlow appends a data-flow event in strict execution order.
func (c *ExecutionContext) RecordDataFlow(sourceID, targetID string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, models.DataFlowEvent{
		SourceNodeID: sourceID,
		TargetNodeID: targetID,
		Data:         data,
		Timestamp:    time.Now(),
	})
}

// DataFlowHistory returns a snapshot of the recorded events.
func (c *ExecutionContext) DataFlowHistory() []models.DataFlowEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DataFlowEvent, len(c.history))
	copy(out, c.history)
	return out
}

// HistoryLen returns the number of recorded data-flow events.
func (c *ExecutionContext) HistoryLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}
