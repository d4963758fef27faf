package execution

import (
	"context"
	"fmt"
	"log"
	"sync"

	"nodeflow/internal/models"
)

// DebugState is the lifecycle state of a debug session.
type DebugState string

const (
	DebugStateIdle      DebugState = "idle"
	DebugStateRunning   DebugState = "running"
	DebugStatePaused    DebugState = "paused"
	DebugStateCompleted DebugState = "completed"
	DebugStateFailed    DebugState = "failed"
	DebugStateAborted   DebugState = "aborted"
)

// DebugMode selects how a session pauses.
type DebugMode string

const (
	DebugModeOff        DebugMode = "off"        // never pauses, history still recorded
	DebugModeStep       DebugMode = "step"       // pauses before every node
	DebugModeBreakpoint DebugMode = "breakpoint" // pauses at marked nodes only
)

// Debugger gates a single run's dispatch loop. It plugs into the engine as a
// DispatchHook: before each node executes the hook consults the session and
// blocks on the gate channel while paused. One Debugger belongs to exactly
// one run.
type Debugger struct {
	mu          sync.Mutex
	state       DebugState
	mode        DebugMode
	breakpoints map[string]bool
	pauseOnNext bool
	currentNode string
	gate        chan struct{} // non-nil while paused; closing releases the run
	cancel      context.CancelFunc
	onUpdate    UpdateFunc
}

// NewDebugger creates a session in the given mode. In step mode the run
// pauses before its first node.
func NewDebugger(mode DebugMode, breakpoints []string, onUpdate UpdateFunc) *Debugger {
	bp := make(map[string]bool, len(breakpoints))
	for _, id := range breakpoints {
		bp[id] = true
	}
	return &Debugger{
		state:       DebugStateIdle,
		mode:        mode,
		breakpoints: bp,
		pauseOnNext: mode == DebugModeStep,
		onUpdate:    onUpdate,
	}
}

// AttachCancel wires the run's cancel func so Abort can tear the run down.
func (d *Debugger) AttachCancel(cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel = cancel
	if d.state == DebugStateIdle {
		d.state = DebugStateRunning
	}
}

// Mode returns the session mode.
func (d *Debugger) Mode() DebugMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// State returns the session state.
func (d *Debugger) State() DebugState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CurrentNode returns the node the session is paused before, or "".
func (d *Debugger) CurrentNode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentNode
}

// Breakpoints returns the marked node ids.
func (d *Debugger) Breakpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.breakpoints))
	for id := range d.breakpoints {
		ids = append(ids, id)
	}
	return ids
}

// SetBreakpoint marks a node; takes effect the next time the run reaches it.
func (d *Debugger) SetBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[nodeID] = true
}

// ClearBreakpoint unmarks a node.
func (d *Debugger) ClearBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, nodeID)
}

// Hook returns the engine dispatch hook for this session.
func (d *Debugger) Hook() DispatchHook {
	return func(ctx context.Context, node models.Node) error {
		d.mu.Lock()
		if d.mode == DebugModeOff {
			d.mu.Unlock()
			return nil
		}
		// Breakpoints apply in both step and breakpoint mode; a resumed
		// step-mode session still stops at marked nodes.
		shouldPause := d.pauseOnNext || d.breakpoints[node.ID]
		if !shouldPause {
			d.mu.Unlock()
			return nil
		}

		d.state = DebugStatePaused
		d.currentNode = node.ID
		d.pauseOnNext = false
		gate := make(chan struct{})
		d.gate = gate
		onUpdate := d.onUpdate
		d.mu.Unlock()

		log.Printf("⏸️ [DEBUG] Paused before node '%s'", node.ID)
		if onUpdate != nil {
			onUpdate(models.ExecutionUpdate{
				Type:   "debug_paused",
				NodeID: node.ID,
				Status: string(DebugStatePaused),
			})
		}

		select {
		case <-gate:
		case <-ctx.Done():
			d.mu.Lock()
			d.state = DebugStateAborted
			d.gate = nil
			d.mu.Unlock()
			return ctx.Err()
		}

		d.mu.Lock()
		if d.state == DebugStateAborted {
			d.mu.Unlock()
			return context.Canceled
		}
		d.state = DebugStateRunning
		d.currentNode = ""
		d.mu.Unlock()
		return nil
	}
}

// Resume releases a paused run; it continues until the next breakpoint or
// the end of the run.
func (d *Debugger) Resume() error {
	return d.release(false)
}

// StepOver releases a paused run for exactly one node, pausing again before
// the next dispatch.
func (d *Debugger) StepOver() error {
	return d.release(true)
}

func (d *Debugger) release(stepOnce bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DebugStatePaused || d.gate == nil {
		return fmt.Errorf("debug session is %s, not paused", d.state)
	}
	d.pauseOnNext = stepOnce
	d.state = DebugStateRunning
	d.currentNode = ""
	close(d.gate)
	d.gate = nil
	return nil
}

// Abort cancels the run. Valid from both paused and running states; the
// engine observes the cancellation and finishes with an aborted status.
func (d *Debugger) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case DebugStateCompleted, DebugStateFailed, DebugStateAborted:
		return fmt.Errorf("debug session already %s", d.state)
	}
	d.state = DebugStateAborted
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	log.Printf("🛑 [DEBUG] Session aborted")
	return nil
}

// Finish records the run's terminal state once the engine returns.
func (d *Debugger) Finish(runStatus string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebugStateAborted {
		return
	}
	switch runStatus {
	case "completed":
		d.state = DebugStateCompleted
	case "aborted":
		d.state = DebugStateAborted
	default:
		d.state = DebugStateFailed
	}
	d.currentNode = ""
}
