package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nodeflow/internal/models"
	"nodeflow/internal/sandbox"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		operator string
		compare  any
		want     bool
	}{
		{"eq strings", "hello", "eq", "hello", true},
		{"eq mismatched", "hello", "eq", "world", false},
		{"eq number vs string", float64(42), "eq", "42", true},
		{"neq", "a", "neq", "b", true},
		{"contains case insensitive", "Hello World", "contains", "world", true},
		{"not_contains", "Hello", "not_contains", "xyz", true},
		{"gt", float64(10), "gt", float64(5), true},
		{"gt equal", float64(5), "gt", float64(5), false},
		{"lt string number", "3", "lt", float64(5), true},
		{"gte equal", float64(5), "gte", float64(5), true},
		{"lte", float64(4), "lte", float64(5), true},
		{"is_empty nil", nil, "is_empty", nil, true},
		{"is_empty blank", "", "is_empty", nil, true},
		{"not_empty", "x", "not_empty", nil, true},
		{"is_true bool", true, "is_true", nil, true},
		{"is_true string false", "false", "is_true", nil, false},
		{"is_true zero", float64(0), "is_true", nil, false},
		{"is_false", false, "is_false", nil, true},
		{"starts_with", "Workflow", "starts_with", "work", true},
		{"ends_with", "engine.go", "ends_with", ".GO", true},
		{"unknown operator falls back to truthiness", "yes", "bogus", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateCondition(tt.value, tt.operator, tt.compare); got != tt.want {
				t.Errorf("evaluateCondition(%v, %s, %v) = %v, want %v", tt.value, tt.operator, tt.compare, got, tt.want)
			}
		})
	}
}

func TestIfConditionExecutor_Branch(t *testing.T) {
	exec := NewIfConditionExecutor()
	ec := NewExecutionContext(nil)

	node := models.Node{ID: "cond", Name: "Cond", Data: map[string]any{
		"field":    "input.count",
		"operator": "gt",
		"value":    float64(3),
	}}

	out, err := exec.Execute(context.Background(), node, map[string]any{
		"input": map[string]any{"count": float64(5)},
	}, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["branch"] != "true" {
		t.Errorf("expected branch 'true', got %v", out["branch"])
	}

	out, err = exec.Execute(context.Background(), node, map[string]any{
		"input": map[string]any{"count": float64(2)},
	}, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["branch"] != "false" {
		t.Errorf("expected branch 'false', got %v", out["branch"])
	}
}

func TestTransformExecutor_Operations(t *testing.T) {
	exec := NewTransformExecutor()
	ec := NewExecutionContext(map[string]any{"env": "prod"})

	node := models.Node{ID: "t1", Name: "Transform", Data: map[string]any{
		"operations": []any{
			map[string]any{"type": "set", "field": "stage", "value": "{{variables.env}}"},
			map[string]any{"type": "rename", "field": "old", "to": "new"},
			map[string]any{"type": "delete", "field": "secret"},
			map[string]any{"type": "template", "field": "greeting", "template": "hello {{input.name}}"},
			map[string]any{"type": "extract", "field": "first", "path": "input.items.0"},
		},
	}}

	inputs := map[string]any{
		"input": map[string]any{
			"name":   "ada",
			"old":    float64(1),
			"secret": "hunter2",
			"items":  []any{"alpha", "beta"},
		},
	}

	out, err := exec.Execute(context.Background(), node, inputs, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := out["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", out["data"])
	}

	if result["stage"] != "prod" {
		t.Errorf("set: expected 'prod', got %v", result["stage"])
	}
	if result["new"] != float64(1) {
		t.Errorf("rename: expected 1 under 'new', got %v", result["new"])
	}
	if _, exists := result["old"]; exists {
		t.Error("rename: 'old' should be gone")
	}
	if _, exists := result["secret"]; exists {
		t.Error("delete: 'secret' should be gone")
	}
	if result["greeting"] != "hello ada" {
		t.Errorf("template: expected 'hello ada', got %v", result["greeting"])
	}
	if result["first"] != "alpha" {
		t.Errorf("extract: expected 'alpha', got %v", result["first"])
	}
}

func TestTransformExecutor_InvalidOperation(t *testing.T) {
	exec := NewTransformExecutor()
	node := models.Node{ID: "t1", Name: "Transform", Data: map[string]any{
		"operations": []any{
			map[string]any{"type": "set"}, // missing field
		},
	}}
	if _, err := exec.Execute(context.Background(), node, map[string]any{}, NewExecutionContext(nil)); err == nil {
		t.Fatal("expected error for set without field")
	}
}

func TestVariableExecutor_ReadWrite(t *testing.T) {
	exec := NewVariableExecutor()
	ec := NewExecutionContext(nil)

	write := models.Node{ID: "w", Name: "Write", Data: map[string]any{
		"operation":    "write",
		"variableName": "greeting",
	}}
	if _, err := exec.Execute(context.Background(), write, map[string]any{"input": "hi"}, ec); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	read := models.Node{ID: "r", Name: "Read", Data: map[string]any{
		"operation":    "read",
		"variableName": "greeting",
	}}
	out, err := exec.Execute(context.Background(), read, map[string]any{}, ec)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out["value"] != "hi" {
		t.Errorf("expected 'hi', got %v", out["value"])
	}
}

func TestOutputExecutor_RequiresInput(t *testing.T) {
	exec := NewOutputExecutor()
	node := models.Node{ID: "out", Name: "Out", Data: map[string]any{}}

	_, err := exec.Execute(context.Background(), node, map[string]any{}, NewExecutionContext(nil))
	var missing *MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInputError, got %v", err)
	}
	if missing.Slot != "input" {
		t.Errorf("expected slot 'input', got %s", missing.Slot)
	}
}

func TestLoopExecutor_ConditionAndCap(t *testing.T) {
	exec := NewLoopExecutor()
	ec := NewExecutionContext(map[string]any{"n": float64(0)})

	node := models.Node{ID: "l1", Name: "Loop", Data: map[string]any{
		"field":         "{{variables.n}}",
		"operator":      "lt",
		"value":         float64(2),
		"maxIterations": float64(10),
	}}

	// n=0: proceed
	out, err := exec.Execute(context.Background(), node, map[string]any{}, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["branch"] != "loop_body" {
		t.Errorf("expected loop_body branch, got %v", out["branch"])
	}

	// n=5: done
	ec.SetVariable("n", float64(5))
	out, err = exec.Execute(context.Background(), node, map[string]any{}, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["branch"] != "done" {
		t.Errorf("expected done branch, got %v", out["branch"])
	}

	// Unconditional loop trips its cap
	capped := models.Node{ID: "l2", Name: "Capped", Data: map[string]any{
		"maxIterations": float64(3),
	}}
	var lastErr error
	for i := 0; i < 4; i++ {
		_, lastErr = exec.Execute(context.Background(), capped, map[string]any{}, ec)
	}
	var limitErr *LoopLimitError
	if !errors.As(lastErr, &limitErr) {
		t.Fatalf("expected LoopLimitError on 4th evaluation, got %v", lastErr)
	}
}

func TestCodeExecutor_ForwardsConsoleToRunLog(t *testing.T) {
	runner := sandbox.NewRunner()
	if !runner.Available() {
		t.Skip("node binary not available, skipping sandbox test")
	}

	exec := NewCodeExecutor(runner)
	ec := NewExecutionContext(nil)
	node := models.Node{ID: "c1", Name: "Code", Type: "code", Data: map[string]any{
		"code": "console.log('from sandbox'); return input",
	}}

	out, err := exec.Execute(context.Background(), node, map[string]any{"input": float64(7)}, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := out["data"].(float64); !ok || got != 7 {
		t.Errorf("expected data 7, got %v", out["data"])
	}

	logs := ec.Logs()
	found := false
	for _, entry := range logs {
		if entry.NodeID == "c1" && strings.Contains(entry.Message, "from sandbox") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected console output in the run log, got %+v", logs)
	}
}

func TestLoopExecutor_BookkeepingStaysOutOfVariables(t *testing.T) {
	exec := NewLoopExecutor()
	ec := NewExecutionContext(map[string]any{"n": float64(0)})

	node := models.Node{ID: "l1", Name: "Loop", Data: map[string]any{
		"field":    "{{variables.n}}",
		"operator": "lt",
		"value":    float64(2),
	}}

	if _, err := exec.Execute(context.Background(), node, map[string]any{}, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ec.SetVariable("n", float64(5))
	if _, err := exec.Execute(context.Background(), node, map[string]any{}, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for key := range ec.Variables() {
		if key != "n" {
			t.Errorf("unexpected variable '%s' in snapshot; iteration bookkeeping must stay private", key)
		}
	}
}
