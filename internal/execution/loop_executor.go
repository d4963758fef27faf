package execution

import (
	"context"
	"log"

	"nodeflow/internal/models"
)

// LoopExecutor drives a bounded while-style loop. Each time the node runs it
// evaluates its condition; while true it emits the "loop_body" branch, and
// once false (or once it detects the iteration cap was hit) it emits "done".
// The engine re-dispatches the loop node after the body subgraph finishes,
// so iteration state has to live in the execution context rather than on the
// executor itself.
type LoopExecutor struct{}

func NewLoopExecutor() *LoopExecutor {
	return &LoopExecutor{}
}

// loopIterationKey is the run-private bookkeeping key under which a loop
// node tracks how many iterations it has started this run.
func loopIterationKey(nodeID string) string {
	return "loop_iterations_" + nodeID
}

func (e *LoopExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data

	maxIterations := getInt(data, "maxIterations", 100)
	if maxIterations <= 0 {
		maxIterations = 100
	}

	iteration := 0
	if v, ok := ec.GetInternal(loopIterationKey(node.ID)); ok {
		iteration = int(toFloat(v))
	}

	if iteration >= maxIterations {
		log.Printf("🔁 [LOOP] Node '%s': iteration cap %d reached", node.Name, maxIterations)
		ec.SetInternal(loopIterationKey(node.ID), 0)
		return nil, &LoopLimitError{NodeID: node.ID, MaxIterations: maxIterations}
	}

	field := StripTemplateBraces(getString(data, "field", ""))
	operator := getString(data, "operator", "is_true")
	compareValue := data["value"]

	var fieldValue any
	if field != "" {
		fieldValue = ResolvePath(templateScope(inputs, ec), field)
	}

	// A loop with no condition field runs until the iteration cap.
	proceed := field == "" || evaluateCondition(fieldValue, operator, compareValue)

	if !proceed {
		log.Printf("🔁 [LOOP] Node '%s': condition false after %d iteration(s)", node.Name, iteration)
		ec.SetInternal(loopIterationKey(node.ID), 0)
		return map[string]any{
			"response":   inputs["input"],
			"data":       inputs["input"],
			"branch":     "done",
			"iterations": iteration,
		}, nil
	}

	ec.SetInternal(loopIterationKey(node.ID), iteration+1)
	log.Printf("🔁 [LOOP] Node '%s': starting iteration %d/%d", node.Name, iteration+1, maxIterations)

	return map[string]any{
		"response":  inputs["input"],
		"data":      inputs["input"],
		"branch":    "loop_body",
		"iteration": iteration + 1,
	}, nil
}
