package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nodeflow/internal/graph"
	"nodeflow/internal/logging"
	"nodeflow/internal/models"
	"nodeflow/internal/sandbox"
)

const (
	// DefaultNodeTimeoutSec bounds a single node execute unless the node
	// overrides it.
	DefaultNodeTimeoutSec = 30
	// DefaultLLMTimeoutSec is the higher default for llm nodes; model calls
	// routinely outlast the generic bound.
	DefaultLLMTimeoutSec = 120
	// DefaultRunTimeoutSec bounds the whole run.
	DefaultRunTimeoutSec = 600
)

// DispatchHook runs before each node dispatch. The debug controller attaches
// here to pause runs at breakpoints; a non-nil error aborts the run.
type DispatchHook func(ctx context.Context, node models.Node) error

// UpdateFunc receives progress events as the run advances (websocket fan-out).
type UpdateFunc func(update models.ExecutionUpdate)

// ExecutionResult is the complete outcome of one run.
type ExecutionResult struct {
	ExecutionID string                       `json:"execution_id"`
	Status      string                       `json:"status"` // completed, failed, aborted
	Outputs     map[string]any               `json:"outputs"`
	Variables   map[string]any               `json:"variables"`
	NodeStates  map[string]*models.NodeState `json:"node_states"`
	Logs        []models.LogEntry            `json:"logs"`
	DataFlow    []models.DataFlowEvent       `json:"data_flow"`
	Error       string                       `json:"error,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	Duration    time.Duration                `json:"duration"`
}

// Engine executes workflows one node at a time in deterministic topological
// order. A single Engine is safe for concurrent runs; all per-run state lives
// in the run struct.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Registry exposes the node type registry (palette endpoint, validation).
func (e *Engine) Registry() *Registry { return e.registry }

// run carries the mutable state of one execution.
type run struct {
	engine      *Engine
	executionID string
	workflow    *models.Workflow
	graph       *graph.Graph
	ec          *ExecutionContext
	states      map[string]*models.NodeState
	outputs     map[string]map[string]any // node id → raw executor output
	branches    map[string]string         // node id → emitted branch, "" if none
	results     map[string]any            // workflow outputs by label
	orderIndex  map[string]int            // node id → position in global order
	hook        DispatchHook
	onUpdate    UpdateFunc
}

// NewRunContext builds the seeded execution context for one run: workflow
// variable defaults merged under the caller's input.
func NewRunContext(wf *models.Workflow, input map[string]any) *ExecutionContext {
	initial := make(map[string]any)
	for _, v := range wf.Variables {
		if v.DefaultValue != nil {
			initial[v.Name] = v.DefaultValue
		}
	}
	for k, v := range input {
		initial[k] = v
	}
	return NewExecutionContext(initial)
}

// Execute validates and runs a workflow to completion. Nothing executes if
// validation fails. input is merged over the workflow's variable defaults.
func (e *Engine) Execute(ctx context.Context, executionID string, wf *models.Workflow, input map[string]any, hook DispatchHook, onUpdate UpdateFunc) (*ExecutionResult, error) {
	return e.ExecuteWith(ctx, executionID, wf, NewRunContext(wf, input), hook, onUpdate)
}

// ExecuteWith runs against a caller-provided execution context, letting the
// caller inspect variables, logs and data-flow history while the run is in
// flight (the debugger's inspection surface).
func (e *Engine) ExecuteWith(ctx context.Context, executionID string, wf *models.Workflow, ec *ExecutionContext, hook DispatchHook, onUpdate UpdateFunc) (*ExecutionResult, error) {
	startedAt := time.Now()

	g := graph.New(wf.Nodes, wf.Edges)
	if errs := g.Validate(e.registry.Has); len(errs) > 0 {
		return nil, fmt.Errorf("workflow validation failed: %s", errs[0].Message)
	}

	loopBodies := g.LoopBodies(func(n models.Node) bool { return n.Type == "loop" })
	order, err := g.TopologicalOrderExcluding(loopBodies)
	if err != nil {
		return nil, err
	}

	r := &run{
		engine:      e,
		executionID: executionID,
		workflow:    wf,
		graph:       g,
		ec:          ec,
		states:      make(map[string]*models.NodeState, len(wf.Nodes)),
		outputs:     make(map[string]map[string]any),
		branches:    make(map[string]string),
		results:     make(map[string]any),
		orderIndex:  make(map[string]int, len(order)),
		hook:        hook,
		onUpdate:    onUpdate,
	}
	for _, n := range wf.Nodes {
		r.states[n.ID] = &models.NodeState{Status: string(NodeStatusPending)}
	}
	for i, id := range order {
		r.orderIndex[id] = i
	}

	runTimeout := wf.Timeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeoutSec
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(runTimeout)*time.Second)
	defer cancel()

	log.Printf("🚀 [ENGINE] Execution %s: workflow '%s', %d node(s), %d in global order",
		executionID, wf.Name, len(wf.Nodes), len(order))

	status := "completed"
	var runErr error
	for _, nodeID := range order {
		node, _ := g.Node(nodeID)
		if err := r.dispatch(runCtx, node); err != nil {
			runErr = err
			if errors.Is(err, context.Canceled) {
				status = "aborted"
			} else {
				status = "failed"
			}
			break
		}
	}

	result := &ExecutionResult{
		ExecutionID: executionID,
		Status:      status,
		Outputs:     r.results,
		Variables:   r.ec.Variables(),
		NodeStates:  r.states,
		Logs:        r.ec.Logs(),
		DataFlow:    r.ec.DataFlowHistory(),
		StartedAt:   startedAt,
		Duration:    time.Since(startedAt),
	}
	if runErr != nil {
		result.Error = runErr.Error()
		log.Printf("❌ [ENGINE] Execution %s: %s after %v: %v", executionID, status, result.Duration, runErr)
	} else {
		log.Printf("✅ [ENGINE] Execution %s: completed in %v, %d output(s)", executionID, result.Duration, len(r.results))
	}
	return result, runErr
}

// dispatch runs one node from the global order, including any loop iteration
// it controls. Returns an error only when the failure should end the run.
func (r *run) dispatch(ctx context.Context, node models.Node) error {
	if node.Type == "loop" {
		return r.runLoop(ctx, node)
	}

	if !r.isLive(node) {
		r.skip(node)
		return nil
	}

	return r.runNode(ctx, node)
}

// isLive reports whether a node should execute. Nodes without incoming edges
// always run; otherwise at least one incoming edge must carry data from a
// completed source on a taken branch.
func (r *run) isLive(node models.Node) bool {
	incoming := r.graph.Incoming(node.ID)
	if len(incoming) == 0 {
		return true
	}
	for _, edge := range incoming {
		if r.edgeLive(edge) {
			return true
		}
	}
	return false
}

// edgeLive reports whether an edge delivers data: its source completed and,
// when the source emitted a branch, the edge leaves the taken handle.
func (r *run) edgeLive(edge models.Edge) bool {
	state, ok := r.states[edge.Source]
	if !ok || state.Status != string(NodeStatusCompleted) {
		return false
	}
	branch, branched := r.branches[edge.Source]
	if !branched {
		return true
	}
	return edge.SourceHandle == "" || edge.SourceHandle == branch
}

// skip marks a node skipped and notifies listeners. Skipped nodes never feed
// their successors, so dead branches propagate naturally.
func (r *run) skip(node models.Node) {
	state := r.states[node.ID]
	state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusSkipped))
	log.Printf("⏭️ [ENGINE] Node '%s' skipped (no live inputs)", node.Name)
	r.emit(models.ExecutionUpdate{
		Type:        "execution_update",
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		Status:      string(NodeStatusSkipped),
	})
}

// gatherInputs resolves a node's input slots from its live incoming edges.
// Each delivery is recorded as a data-flow event; on fan-in, sources later in
// the execution order overwrite earlier ones, so delivery order and history
// order agree.
func (r *run) gatherInputs(node models.Node) map[string]any {
	inputs := make(map[string]any)

	incoming := append([]models.Edge(nil), r.graph.Incoming(node.ID)...)
	for i := 1; i < len(incoming); i++ {
		for j := i; j > 0 && r.orderIndex[incoming[j].Source] < r.orderIndex[incoming[j-1].Source]; j-- {
			incoming[j], incoming[j-1] = incoming[j-1], incoming[j]
		}
	}

	for _, edge := range incoming {
		if !r.edgeLive(edge) {
			continue
		}
		value := r.edgeValue(edge)
		slot := edge.TargetHandle
		if slot == "" {
			slot = "input"
		}
		inputs[slot] = value
		r.ec.RecordDataFlow(edge.Source, node.ID, value)
	}
	return inputs
}

// edgeValue extracts the payload an edge carries from its source's output
// map: the named handle's value when present, else the conventional data /
// response keys, else the whole map.
func (r *run) edgeValue(edge models.Edge) any {
	out := r.outputs[edge.Source]
	if out == nil {
		return nil
	}
	if edge.SourceHandle != "" {
		if v, ok := out[edge.SourceHandle]; ok {
			return v
		}
	}
	if v, ok := out["data"]; ok {
		return v
	}
	if v, ok := out["response"]; ok {
		return v
	}
	return out
}

// runNode executes a single non-loop node with retries, timeout and panic
// recovery, updating its state and the run outputs.
func (r *run) runNode(ctx context.Context, node models.Node) error {
	if r.hook != nil {
		if err := r.hook(ctx, node); err != nil {
			return err
		}
	}

	inputs := r.gatherInputs(node)
	output, err := r.executeWithRetry(ctx, node, inputs)
	if err != nil {
		return r.handleNodeError(node, err)
	}

	r.complete(node, inputs, output)
	return nil
}

// executeWithRetry runs the node's executor, retrying transient failures per
// the node's retry config. Sandbox failures are never retried: the snippet
// is deterministic, so a second run buys nothing.
func (r *run) executeWithRetry(ctx context.Context, node models.Node, inputs map[string]any) (map[string]any, error) {
	state := r.states[node.ID]
	now := time.Now()
	state.StartedAt = &now
	state.Inputs = inputs
	state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusRunning))
	r.emit(models.ExecutionUpdate{
		Type:        "execution_update",
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		Status:      string(NodeStatusRunning),
		Inputs:      inputs,
	})

	maxRetries := 0
	var retryOn []string
	backoffMs, maxBackoffMs := 1000, 30000
	if rc := node.RetryConfig; rc != nil {
		maxRetries = rc.MaxRetries
		retryOn = rc.RetryOn
		if rc.BackoffMs > 0 {
			backoffMs = rc.BackoffMs
		}
		if rc.MaxBackoffMs > 0 {
			maxBackoffMs = rc.MaxBackoffMs
		}
	}
	backoff := NewBackoffCalculator(backoffMs, maxBackoffMs, 2.0, 20)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusRetrying))
			delay := backoff.NextDelay(attempt - 1)
			if execErr, ok := lastErr.(*ExecutionError); ok && execErr.RetryAfter > 0 {
				delay = time.Duration(execErr.RetryAfter) * time.Second
			}
			log.Printf("🔄 [ENGINE] Node '%s': retry %d/%d after %v", node.Name, attempt, maxRetries, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusRunning))
		}

		attemptStart := time.Now()
		output, err := r.executeOnce(ctx, node, inputs)
		if err == nil {
			state.RetryCount = attempt
			return output, nil
		}
		lastErr = err

		classified := ClassifyError(err)
		state.RetryHistory = append(state.RetryHistory, models.RetryAttempt{
			Attempt:   attempt + 1,
			Error:     err.Error(),
			ErrorType: getErrorType(classified),
			Timestamp: time.Now(),
			Duration:  time.Since(attemptStart).Milliseconds(),
		})

		if isSandboxError(err) || !ShouldRetry(classified, retryOn) {
			break
		}
	}
	return nil, lastErr
}

// executeOnce runs the executor under the node's timeout with panic recovery.
func (r *run) executeOnce(ctx context.Context, node models.Node, inputs map[string]any) (output map[string]any, err error) {
	def, defErr := r.engine.registry.Get(node.Type)
	if defErr != nil {
		return nil, defErr
	}

	timeoutSec := node.Timeout
	if timeoutSec <= 0 {
		timeoutSec = DefaultNodeTimeoutSec
		if node.Type == "llm" {
			timeoutSec = DefaultLLMTimeoutSec
		}
	}
	nodeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("💥 [ENGINE] Node '%s' panicked: %v", node.Name, rec)
			err = fmt.Errorf("node '%s' panicked: %v", node.ID, rec)
		}
	}()

	merged := node
	merged.Data = r.engine.registry.MergedData(node)
	return def.Executor.Execute(nodeCtx, merged, inputs, r.ec)
}

// complete marks a node done and stores its output for downstream consumers.
func (r *run) complete(node models.Node, inputs, output map[string]any) {
	state := r.states[node.ID]
	now := time.Now()
	state.CompletedAt = &now
	state.Outputs = output
	state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusCompleted))
	r.outputs[node.ID] = output

	if branch, ok := output["branch"].(string); ok {
		r.branches[node.ID] = branch
	} else {
		delete(r.branches, node.ID)
	}

	if node.Type == "output" {
		label := node.ID
		if l, ok := output["label"].(string); ok && l != "" {
			label = l
		}
		r.results[label] = output["data"]
	}

	r.ec.AddLog("success", fmt.Sprintf("node '%s' completed", node.Name), node.ID, nil)
	r.emit(models.ExecutionUpdate{
		Type:        "execution_update",
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		Status:      string(NodeStatusCompleted),
		Output:      output,
	})
}

// handleNodeError records a node failure and decides whether the run dies.
// Continue-on-error nodes fail quietly; their successors see no live edge.
func (r *run) handleNodeError(node models.Node, err error) error {
	state := r.states[node.ID]
	now := time.Now()
	state.CompletedAt = &now
	state.Error = err.Error()
	state.Status = string(TransitionNodeStatus(NodeStatus(state.Status), NodeStatusFailed))

	r.ec.AddLog("error", err.Error(), node.ID, nil)
	logger := logging.WithNode(logging.WithExecution(r.executionID, r.workflow.ID), node.ID, node.Name, node.Type)
	logger.Error("node failed", "error", err.Error())
	r.emit(models.ExecutionUpdate{
		Type:        "execution_update",
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		Status:      string(NodeStatusFailed),
		Error:       err.Error(),
	})

	if node.ContinueOnError {
		log.Printf("⚠️ [ENGINE] Node '%s' failed but continueOnError is set: %v", node.Name, err)
		return nil
	}
	return fmt.Errorf("node '%s' failed: %w", node.ID, err)
}

// runLoop drives a loop node: evaluate the condition, run the body subgraph,
// re-evaluate, until the loop takes its done branch or trips its cap.
func (r *run) runLoop(ctx context.Context, node models.Node) error {
	body := r.graph.LoopBody(node.ID)
	bodyOrder, err := r.bodyOrder(body)
	if err != nil {
		return err
	}

	// Liveness for a loop ignores back-edges from its own body: only
	// external feeds decide whether the loop runs at all.
	external, live := 0, false
	for _, edge := range r.graph.Incoming(node.ID) {
		if body[edge.Source] {
			continue
		}
		external++
		if r.edgeLive(edge) {
			live = true
		}
	}
	if external > 0 && !live {
		r.skip(node)
		return nil
	}

	for {
		if err := r.runNode(ctx, node); err != nil {
			return err
		}
		state := r.states[node.ID]
		if state.Status != string(NodeStatusCompleted) {
			// continueOnError swallowed a failure; the loop cannot proceed
			return nil
		}
		if r.branches[node.ID] != graph.HandleLoopBody {
			return nil
		}

		// Reset body nodes so they can run again this iteration; on the
		// first pass they are still pending and need no transition.
		for id := range body {
			s := r.states[id]
			if s.Status != string(NodeStatusPending) {
				s.Status = string(TransitionNodeStatus(NodeStatus(s.Status), NodeStatusPending))
			}
			s.Error = ""
		}

		for _, bodyID := range bodyOrder {
			bodyNode, _ := r.graph.Node(bodyID)
			if !r.isLive(bodyNode) {
				r.skip(bodyNode)
				continue
			}
			if err := r.runNode(ctx, bodyNode); err != nil {
				return err
			}
		}

		// Reset the loop node itself for the next evaluation
		loopState := r.states[node.ID]
		loopState.Status = string(TransitionNodeStatus(NodeStatus(loopState.Status), NodeStatusPending))
	}
}

// bodyOrder computes the deterministic execution order inside a loop body by
// ordering the body subgraph in isolation.
func (r *run) bodyOrder(body map[string]bool) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	exclude := make(map[string]bool)
	for _, n := range r.graph.Nodes() {
		if !body[n.ID] {
			exclude[n.ID] = true
		}
	}
	return r.graph.TopologicalOrderExcluding(exclude)
}

func (r *run) emit(update models.ExecutionUpdate) {
	if r.onUpdate != nil {
		r.onUpdate(update)
	}
}

// isSandboxError reports whether an error came from the code sandbox.
func isSandboxError(err error) bool {
	var timeoutErr *sandbox.TimeoutError
	var runtimeErr *sandbox.RuntimeError
	var sizeErr *sandbox.SizeLimitError
	return errors.As(err, &timeoutErr) || errors.As(err, &runtimeErr) || errors.As(err, &sizeErr)
}
