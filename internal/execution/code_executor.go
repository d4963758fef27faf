package execution

import (
	"context"
	"fmt"
	"log"

	"nodeflow/internal/models"
	"nodeflow/internal/sandbox"
)

// CodeExecutor runs user-supplied JavaScript in an isolated sandbox process.
// Console output from the snippet is forwarded into the execution log.
type CodeExecutor struct {
	runner *sandbox.Runner
}

func NewCodeExecutor(runner *sandbox.Runner) *CodeExecutor {
	return &CodeExecutor{runner: runner}
}

func (e *CodeExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data

	code := getString(data, "code", "")
	if code == "" {
		code = getString(data, "script", "")
	}
	timeoutMs := getInt(data, "timeout", sandbox.DefaultTimeoutMs)

	log.Printf("📜 [CODE] Node '%s': executing %d bytes, timeout=%dms", node.Name, len(code), timeoutMs)

	onConsole := func(line any) {
		ec.AddLog("info", fmt.Sprintf("%v", line), node.ID, map[string]any{"source": "console"})
	}

	result, err := e.runner.Execute(ctx, code, inputs["input"], ec.Variables(), timeoutMs, onConsole)
	if err != nil {
		log.Printf("❌ [CODE] Node '%s': %v", node.Name, err)
		return nil, err
	}

	return map[string]any{
		"response": result,
		"data":     result,
	}, nil
}
