package execution

import (
	"context"
	"log"

	"nodeflow/internal/models"
)

// OutputExecutor terminates a flow and surfaces its input as a named
// workflow result. The engine collects these into the run's output map.
type OutputExecutor struct{}

func NewOutputExecutor() *OutputExecutor {
	return &OutputExecutor{}
}

func (e *OutputExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	value, ok := inputs["input"]
	if !ok {
		return nil, &MissingInputError{NodeID: node.ID, Slot: "input"}
	}

	label := getString(node.Data, "label", node.Name)
	if label == "" {
		label = node.ID
	}

	log.Printf("📤 [OUTPUT] Node '%s': captured result under '%s'", node.Name, label)
	ec.AddLog("info", "workflow output captured", node.ID, map[string]any{"label": label})

	return map[string]any{
		"response": value,
		"data":     value,
		"label":    label,
	}, nil
}
