package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"nodeflow/internal/execution"
	"nodeflow/internal/logging"
	"nodeflow/internal/models"
)

const (
	// resultTTL is how long finished run results stay queryable.
	resultTTL = 30 * time.Minute
	// updateBufferSize bounds the per-subscriber update queue; slow websocket
	// readers drop updates rather than stall the run.
	updateBufferSize = 256
)

var (
	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrWorkflowBusy is returned when a run is already active for the
	// workflow; concurrent runs of the same workflow would race on its
	// variable semantics.
	ErrWorkflowBusy = errors.New("workflow already has an active execution")
)

// ExecutionRequest parametrizes one run.
type ExecutionRequest struct {
	Input       map[string]any `json:"input,omitempty"`
	DebugMode   string         `json:"debugMode,omitempty"` // off (default), step, breakpoint
	Breakpoints []string       `json:"breakpoints,omitempty"`
}

// ExecutionStatus is the inspection surface of a run, live or finished.
type ExecutionStatus struct {
	ExecutionID string                     `json:"execution_id"`
	WorkflowID  string                     `json:"workflow_id"`
	Status      string                     `json:"status"` // running, paused, completed, failed, aborted
	DebugMode   string                     `json:"debug_mode"`
	CurrentNode string                     `json:"current_node,omitempty"`
	StepIndex   int                        `json:"step_index"`
	Breakpoints []string                   `json:"breakpoints,omitempty"`
	Variables   map[string]any             `json:"variables,omitempty"`
	DataFlow    []models.DataFlowEvent     `json:"data_flow,omitempty"`
	Logs        []models.LogEntry          `json:"logs,omitempty"`
	Result      *execution.ExecutionResult `json:"result,omitempty"`
}

// activeRun tracks one in-flight execution.
type activeRun struct {
	executionID string
	workflowID  string
	debugger    *execution.Debugger
	ec          *execution.ExecutionContext
	nodeIDs     map[string]bool
	cancel      context.CancelFunc

	mu          sync.Mutex
	subscribers []chan models.ExecutionUpdate
	done        bool
}

func (r *activeRun) publish(update models.ExecutionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- update:
		default:
			// Slow consumer; drop rather than block the run
		}
	}
}

func (r *activeRun) subscribe() chan models.ExecutionUpdate {
	ch := make(chan models.ExecutionUpdate, updateBufferSize)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		close(ch)
		return ch
	}
	r.subscribers = append(r.subscribers, ch)
	return ch
}

func (r *activeRun) unsubscribe(ch chan models.ExecutionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

func (r *activeRun) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}

// ExecutionService owns run lifecycles: starting runs (synchronous or under
// a debug session), streaming their updates, exposing the debugger control
// surface, and caching finished results.
type ExecutionService struct {
	engine    *execution.Engine
	workflows *WorkflowService
	results   *cache.Cache // execution id -> *execution.ExecutionResult

	mu         sync.Mutex
	active     map[string]*activeRun // execution id -> run
	byWorkflow map[string]string     // workflow id -> active execution id
}

func NewExecutionService(engine *execution.Engine, workflows *WorkflowService) *ExecutionService {
	return &ExecutionService{
		engine:     engine,
		workflows:  workflows,
		results:    cache.New(resultTTL, 10*time.Minute),
		active:     make(map[string]*activeRun),
		byWorkflow: make(map[string]string),
	}
}

// Execute runs a workflow synchronously and returns the final result. Used
// by the plain execute endpoint and the scheduler.
func (s *ExecutionService) Execute(workflowID string, input map[string]any) (*execution.ExecutionResult, error) {
	wf, err := s.workflows.Get(workflowID)
	if err != nil {
		return nil, err
	}

	run, runCtx, err := s.register(wf, execution.DebugModeOff, nil, input)
	if err != nil {
		return nil, err
	}
	defer s.unregister(run)

	result, execErr := s.engine.ExecuteWith(runCtx, run.executionID, wf, run.ec, nil, run.publish)
	s.storeResult(run.executionID, result)
	if execErr != nil && result == nil {
		return nil, execErr
	}
	return result, nil
}

// ExecuteFunc adapts the service for the scheduler's callback type.
func (s *ExecutionService) ExecuteFunc() models.WorkflowExecuteFunc {
	return func(workflowID string, input map[string]any) (*models.WorkflowExecuteResult, error) {
		result, err := s.Execute(workflowID, input)
		if result == nil {
			return nil, err
		}
		out := &models.WorkflowExecuteResult{
			Status:     result.Status,
			Outputs:    result.Outputs,
			Variables:  result.Variables,
			NodeStates: result.NodeStates,
			Error:      result.Error,
		}
		return out, nil
	}
}

// StartDebug starts a run under a debug session and returns immediately with
// its execution id. The run advances in the background, gated by the session.
func (s *ExecutionService) StartDebug(workflowID string, req *ExecutionRequest) (string, error) {
	wf, err := s.workflows.Get(workflowID)
	if err != nil {
		return "", err
	}

	mode := execution.DebugMode(req.DebugMode)
	switch mode {
	case execution.DebugModeStep, execution.DebugModeBreakpoint, execution.DebugModeOff:
	case "":
		mode = execution.DebugModeBreakpoint
	default:
		return "", fmt.Errorf("unknown debug mode '%s'", req.DebugMode)
	}

	for _, id := range req.Breakpoints {
		if !workflowHasNode(wf, id) {
			return "", fmt.Errorf("breakpoint references unknown node '%s'", id)
		}
	}

	run, runCtx, err := s.register(wf, mode, req.Breakpoints, req.Input)
	if err != nil {
		return "", err
	}

	logger := logging.WithExecution(run.executionID, workflowID)
	logger.Info("debug session started", "mode", string(mode), "breakpoints", len(req.Breakpoints))

	go func() {
		defer s.unregister(run)
		result, _ := s.engine.ExecuteWith(runCtx, run.executionID, wf, run.ec, run.debugger.Hook(), run.publish)
		if result != nil {
			run.debugger.Finish(result.Status)
			s.storeResult(run.executionID, result)
		} else {
			run.debugger.Finish("failed")
		}
	}()

	return run.executionID, nil
}

// register admits a run for a workflow, rejecting a second concurrent run of
// the same workflow id.
func (s *ExecutionService) register(wf *models.Workflow, mode execution.DebugMode, breakpoints []string, input map[string]any) (*activeRun, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activeID, busy := s.byWorkflow[wf.ID]; busy {
		return nil, nil, fmt.Errorf("%w: execution %s", ErrWorkflowBusy, activeID)
	}

	executionID := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.Background())

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = true
	}

	run := &activeRun{
		executionID: executionID,
		workflowID:  wf.ID,
		ec:          execution.NewRunContext(wf, input),
		nodeIDs:     nodeIDs,
		cancel:      cancel,
	}
	// The debugger publishes pause events to the same subscribers the
	// engine's updates go to.
	run.debugger = execution.NewDebugger(mode, breakpoints, run.publish)
	run.debugger.AttachCancel(cancel)

	s.active[executionID] = run
	s.byWorkflow[wf.ID] = executionID
	return run, runCtx, nil
}

func (s *ExecutionService) unregister(run *activeRun) {
	s.mu.Lock()
	delete(s.active, run.executionID)
	if s.byWorkflow[run.workflowID] == run.executionID {
		delete(s.byWorkflow, run.workflowID)
	}
	s.mu.Unlock()

	run.cancel()
	run.finish()
}

func (s *ExecutionService) storeResult(executionID string, result *execution.ExecutionResult) {
	if result != nil {
		s.results.Set(executionID, result, cache.DefaultExpiration)
	}
}

func (s *ExecutionService) lookupActive(executionID string) (*activeRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.active[executionID]
	return run, ok
}

// Status returns the inspection surface for a live or recently finished run.
func (s *ExecutionService) Status(executionID string) (*ExecutionStatus, error) {
	if run, ok := s.lookupActive(executionID); ok {
		status := &ExecutionStatus{
			ExecutionID: run.executionID,
			WorkflowID:  run.workflowID,
			Status:      string(run.debugger.State()),
			DebugMode:   string(run.debugger.Mode()),
			CurrentNode: run.debugger.CurrentNode(),
			StepIndex:   run.ec.HistoryLen(),
			Breakpoints: run.debugger.Breakpoints(),
			Variables:   run.ec.Variables(),
			DataFlow:    run.ec.DataFlowHistory(),
			Logs:        run.ec.Logs(),
		}
		return status, nil
	}

	if cached, ok := s.results.Get(executionID); ok {
		result := cached.(*execution.ExecutionResult)
		return &ExecutionStatus{
			ExecutionID: executionID,
			Status:      result.Status,
			StepIndex:   len(result.DataFlow),
			Variables:   result.Variables,
			DataFlow:    result.DataFlow,
			Logs:        result.Logs,
			Result:      result,
		}, nil
	}

	return nil, ErrExecutionNotFound
}

// StepOver advances a paused debug session by one node.
func (s *ExecutionService) StepOver(executionID string) error {
	run, ok := s.lookupActive(executionID)
	if !ok {
		return ErrExecutionNotFound
	}
	return run.debugger.StepOver()
}

// Resume releases a paused debug session until the next breakpoint or the end.
func (s *ExecutionService) Resume(executionID string) error {
	run, ok := s.lookupActive(executionID)
	if !ok {
		return ErrExecutionNotFound
	}
	return run.debugger.Resume()
}

// Abort cancels a run. The engine finishes with an aborted status and no
// further data-flow events are recorded.
func (s *ExecutionService) Abort(executionID string) error {
	run, ok := s.lookupActive(executionID)
	if !ok {
		return ErrExecutionNotFound
	}
	return run.debugger.Abort()
}

func workflowHasNode(wf *models.Workflow, nodeID string) bool {
	for _, n := range wf.Nodes {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}

// SetBreakpoints replaces the breakpoint set for a live run. Every id must
// name a node of the running workflow.
func (s *ExecutionService) SetBreakpoints(executionID string, nodeIDs []string) error {
	run, ok := s.lookupActive(executionID)
	if !ok {
		return ErrExecutionNotFound
	}
	for _, id := range nodeIDs {
		if !run.nodeIDs[id] {
			return fmt.Errorf("breakpoint references unknown node '%s'", id)
		}
	}
	for _, id := range run.debugger.Breakpoints() {
		run.debugger.ClearBreakpoint(id)
	}
	for _, id := range nodeIDs {
		run.debugger.SetBreakpoint(id)
	}
	log.Printf("🔖 [EXEC] Breakpoints for %s: %v", executionID, nodeIDs)
	return nil
}

// Subscribe attaches an update stream to a live run. The returned cancel
// func detaches; the channel closes when the run ends.
func (s *ExecutionService) Subscribe(executionID string) (<-chan models.ExecutionUpdate, func(), error) {
	run, ok := s.lookupActive(executionID)
	if !ok {
		return nil, nil, ErrExecutionNotFound
	}
	ch := run.subscribe()
	return ch, func() { run.unsubscribe(ch) }, nil
}
