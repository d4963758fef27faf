package models

import "time"

// Workflow represents a node-graph workflow definition
type Workflow struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Nodes         []Node     `json:"nodes"`
	Edges         []Edge     `json:"edges"`
	Variables     []Variable `json:"variables,omitempty"`
	MaxIterations int        `json:"maxIterations,omitempty"` // loop safety cap (default 100)
	Timeout       int        `json:"timeout,omitempty"`       // whole-run timeout in seconds (default 600)
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at,omitempty"`
}

// Node represents a single node in the workflow graph
type Node struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"` // key into the node registry
	Name            string         `json:"name"`
	Position        Position       `json:"position"`          // canvas layout only, ignored by the engine
	Data            map[string]any `json:"data"`              // configuration, merged over the registry defaults
	Timeout         int            `json:"timeout,omitempty"` // seconds, default 30
	ContinueOnError bool           `json:"continueOnError,omitempty"`
	RetryConfig     *RetryConfig   `json:"retryConfig,omitempty"`
}

// RetryConfig specifies automatic retry behavior for a node on transient failures.
// Sandbox (code node) errors are never retried regardless of this config.
type RetryConfig struct {
	MaxRetries   int      `json:"maxRetries"`             // 0 = no retry (default)
	RetryOn      []string `json:"retryOn,omitempty"`      // ["rate_limit", "timeout", "server_error", "network_error", "all_transient"]
	BackoffMs    int      `json:"backoffMs,omitempty"`    // Initial backoff in ms (default 1000)
	MaxBackoffMs int      `json:"maxBackoffMs,omitempty"` // Max backoff in ms (default 30000)
}

// Position represents x,y coordinates for canvas layout
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge represents a directed data-flow connection between two nodes
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"` // output slot; empty means "output"
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"` // input slot; empty means "input"
}

// Variable represents a workflow-level variable with an optional default
type Variable struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // string, number, boolean, array, object
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// NodeState represents the execution state of a single node within one run
type NodeState struct {
	Status      string         `json:"status"` // pending, running, completed, failed, skipped
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	RetryCount   int            `json:"retry_count,omitempty"`
	RetryHistory []RetryAttempt `json:"retry_history,omitempty"`
}

// RetryAttempt records a single retry attempt for debugging and monitoring
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration_ms"`
}

// DataFlowEvent records one value transmitted from a source node to a target
// node at a given run step. The ordered sequence of these events forms the
// replayable history the debugger exposes.
type DataFlowEvent struct {
	SourceNodeID string    `json:"sourceNodeId"`
	TargetNodeID string    `json:"targetNodeId"`
	Data         any       `json:"data"`
	Timestamp    time.Time `json:"timestamp"`
}

// LogEntry is one entry in a run's append-only log sink
type LogEntry struct {
	Level     string    `json:"level"` // info, success, warning, error
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionUpdate is sent via WebSocket to stream execution progress
type ExecutionUpdate struct {
	Type        string         `json:"type"` // execution_update, debug_paused, console
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ValidationError reports a structural problem found before execution starts
type ValidationError struct {
	Type    string `json:"type"` // schema, cycle, missing_node_type, dangling_edge
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
}

// WorkflowExecuteResult contains the result of a workflow execution
type WorkflowExecuteResult struct {
	Status     string
	Outputs    map[string]any
	Variables  map[string]any
	NodeStates map[string]*NodeState
	Error      string
}

// WorkflowExecuteFunc executes a workflow with the given input variables.
// The scheduler calls the execution service through this type to avoid an
// import cycle.
type WorkflowExecuteFunc func(workflowID string, input map[string]any) (*WorkflowExecuteResult, error)
