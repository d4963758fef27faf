package execution

import "log"

// NodeStatus represents valid node execution states.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusRetrying  NodeStatus = "retrying"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// validTransitions defines the allowed state transitions for nodes.
// Any transition not listed here is invalid and will be rejected.
var validTransitions = map[NodeStatus]map[NodeStatus]bool{
	NodeStatusPending: {
		NodeStatusRunning: true,
		NodeStatusSkipped: true,
	},
	NodeStatusRunning: {
		NodeStatusCompleted: true,
		NodeStatusFailed:    true,
		NodeStatusRetrying:  true,
		NodeStatusSkipped:   true,
	},
	NodeStatusRetrying: {
		NodeStatusRunning:   true,
		NodeStatusCompleted: true,
		NodeStatusFailed:    true,
	},
	// Terminal states can only go back to pending (loop body reset)
	NodeStatusCompleted: {
		NodeStatusPending: true,
	},
	NodeStatusFailed: {
		NodeStatusPending: true,
	},
	NodeStatusSkipped: {
		NodeStatusPending: true,
	},
}

// TransitionNodeStatus validates and performs a node status transition.
// Returns the new status if valid, or the current status if the transition is invalid.
func TransitionNodeStatus(current, desired NodeStatus) NodeStatus {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATE] Invalid node transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// IsTerminal returns true if the status is a final state.
func IsTerminal(status NodeStatus) bool {
	return status == NodeStatusCompleted || status == NodeStatusFailed || status == NodeStatusSkipped
}
