package execution

import "testing"

func TestTransitionNodeStatus(t *testing.T) {
	tests := []struct {
		name    string
		current NodeStatus
		desired NodeStatus
		want    NodeStatus
	}{
		{"pending to running", NodeStatusPending, NodeStatusRunning, NodeStatusRunning},
		{"pending to skipped", NodeStatusPending, NodeStatusSkipped, NodeStatusSkipped},
		{"running to completed", NodeStatusRunning, NodeStatusCompleted, NodeStatusCompleted},
		{"running to failed", NodeStatusRunning, NodeStatusFailed, NodeStatusFailed},
		{"running to retrying", NodeStatusRunning, NodeStatusRetrying, NodeStatusRetrying},
		{"retrying to running", NodeStatusRetrying, NodeStatusRunning, NodeStatusRunning},
		{"completed resets to pending", NodeStatusCompleted, NodeStatusPending, NodeStatusPending},
		{"failed resets to pending", NodeStatusFailed, NodeStatusPending, NodeStatusPending},
		{"skipped resets to pending", NodeStatusSkipped, NodeStatusPending, NodeStatusPending},

		// Invalid transitions keep the current status.
		{"pending to completed rejected", NodeStatusPending, NodeStatusCompleted, NodeStatusPending},
		{"pending to failed rejected", NodeStatusPending, NodeStatusFailed, NodeStatusPending},
		{"completed to running rejected", NodeStatusCompleted, NodeStatusRunning, NodeStatusCompleted},
		{"completed to failed rejected", NodeStatusCompleted, NodeStatusFailed, NodeStatusCompleted},
		{"skipped to running rejected", NodeStatusSkipped, NodeStatusRunning, NodeStatusSkipped},
		{"unknown current rejected", NodeStatus("bogus"), NodeStatusRunning, NodeStatus("bogus")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransitionNodeStatus(tt.current, tt.desired)
			if got != tt.want {
				t.Errorf("TransitionNodeStatus(%s, %s) = %s, want %s", tt.current, tt.desired, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []NodeStatus{NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	live := []NodeStatus{NodeStatusPending, NodeStatusRunning, NodeStatusRetrying}
	for _, s := range live {
		if IsTerminal(s) {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}
