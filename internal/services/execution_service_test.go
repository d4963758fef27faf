package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nodeflow/internal/database"
	"nodeflow/internal/execution"
	"nodeflow/internal/models"
)

// slowExecutor blocks until released (or ctx cancels) so tests can hold a
// run active deterministically.
type slowExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (e *slowExecutor) run(ctx context.Context) (map[string]any, error) {
	select {
	case e.started <- struct{}{}:
	default:
	}
	select {
	case <-e.release:
		return map[string]any{"response": "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestExecutionService(t *testing.T, exec execution.NodeExecutor) (*ExecutionService, *WorkflowService) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := execution.NewRegistry(nil)
	registry.Register(&execution.NodeDefinition{
		Name:     "test",
		Category: "test",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		Executor: exec,
	})

	workflows := NewWorkflowService(db, registry)
	engine := execution.NewEngine(registry)
	return NewExecutionService(engine, workflows), workflows
}

type funcExecutor func(ctx context.Context) (map[string]any, error)

func (f funcExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *execution.ExecutionContext) (map[string]any, error) {
	return f(ctx)
}

func singleNodeWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:    id,
		Name:  id,
		Nodes: []models.Node{{ID: "a", Type: "test", Name: "a"}},
		Edges: []models.Edge{},
	}
}

func TestExecuteRejectsConcurrentSameWorkflow(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocker := &slowExecutor{started: started, release: release}
	svc, workflows := newTestExecutionService(t, funcExecutor(blocker.run))

	if _, err := workflows.Create(singleNodeWorkflow("wf-busy")); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	executionID, err := svc.StartDebug("wf-busy", &ExecutionRequest{DebugMode: "off"})
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	<-started

	if _, err := svc.Execute("wf-busy", nil); !errors.Is(err, ErrWorkflowBusy) {
		t.Errorf("expected ErrWorkflowBusy for concurrent run, got %v", err)
	}

	close(release)

	// The run finishes asynchronously; the result moves to the cache.
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := svc.Status(executionID)
		if err == nil && status.Result != nil {
			if status.Result.Status != "completed" {
				t.Errorf("expected completed run, got '%s'", status.Result.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished (last err: %v)", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Workflow is free again once the run finished.
	if _, err := svc.Execute("wf-busy", nil); err != nil {
		t.Errorf("expected workflow to be runnable after finish, got %v", err)
	}
}

func TestExecuteDistinctWorkflowsConcurrently(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocker := &slowExecutor{started: started, release: release}
	svc, workflows := newTestExecutionService(t, funcExecutor(blocker.run))

	for _, id := range []string{"wf-one", "wf-two"} {
		if _, err := workflows.Create(singleNodeWorkflow(id)); err != nil {
			t.Fatalf("failed to create workflow %s: %v", id, err)
		}
	}

	if _, err := svc.StartDebug("wf-one", &ExecutionRequest{DebugMode: "off"}); err != nil {
		t.Fatalf("failed to start first run: %v", err)
	}
	<-started

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute("wf-two", nil)
		done <- err
	}()

	// Nothing blocks wf-two on wf-one; release lets both finish.
	close(release)
	if err := <-done; err != nil {
		t.Errorf("expected distinct workflow to run concurrently, got %v", err)
	}
}

func TestStatusUnknownExecution(t *testing.T) {
	svc, _ := newTestExecutionService(t, funcExecutor(func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"response": "ok"}, nil
	}))

	if _, err := svc.Status("no-such-id"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
	if err := svc.Resume("no-such-id"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound from Resume, got %v", err)
	}
}

func TestStartDebugRejectsUnknownMode(t *testing.T) {
	svc, workflows := newTestExecutionService(t, funcExecutor(func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"response": "ok"}, nil
	}))
	if _, err := workflows.Create(singleNodeWorkflow("wf-mode")); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	if _, err := svc.StartDebug("wf-mode", &ExecutionRequest{DebugMode: "turbo"}); err == nil {
		t.Error("expected error for unknown debug mode")
	}
}

func TestStartDebugRejectsUnknownBreakpoint(t *testing.T) {
	svc, workflows := newTestExecutionService(t, funcExecutor(func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"response": "ok"}, nil
	}))
	if _, err := workflows.Create(singleNodeWorkflow("wf-bp")); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	req := &ExecutionRequest{DebugMode: "breakpoint", Breakpoints: []string{"no-such-node"}}
	if _, err := svc.StartDebug("wf-bp", req); err == nil {
		t.Error("expected error for breakpoint on unknown node")
	}
}

func TestDebugPauseEventsReachSubscribers(t *testing.T) {
	svc, workflows := newTestExecutionService(t, funcExecutor(func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"response": "ok"}, nil
	}))

	wf := &models.Workflow{
		ID:   "wf-stream",
		Name: "wf-stream",
		Nodes: []models.Node{
			{ID: "a", Type: "test", Name: "a"},
			{ID: "b", Type: "test", Name: "b"},
		},
		Edges: []models.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}
	if _, err := workflows.Create(wf); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	executionID, err := svc.StartDebug("wf-stream", &ExecutionRequest{DebugMode: "step"})
	if err != nil {
		t.Fatalf("failed to start debug run: %v", err)
	}
	waitForRunState(t, svc, executionID, "paused")

	updates, detach, err := svc.Subscribe(executionID)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer detach()

	// Stepping executes a and pauses before b; that pause must be streamed.
	if err := svc.StepOver(executionID); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				t.Fatal("stream closed before a debug_paused event arrived")
			}
			if update.Type == "debug_paused" {
				if update.NodeID != "b" {
					t.Errorf("expected pause event for 'b', got '%s'", update.NodeID)
				}
				if err := svc.Resume(executionID); err != nil {
					t.Fatalf("resume failed: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no debug_paused event reached the subscriber")
		}
	}
}

func waitForRunState(t *testing.T, svc *ExecutionService, executionID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.Status(executionID)
		if err == nil && status.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution never reached state %s", want)
}
