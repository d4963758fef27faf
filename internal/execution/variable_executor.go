package execution

import (
	"context"
	"fmt"
	"log"

	"nodeflow/internal/models"
)

// VariableExecutor reads or writes the run's variable store.
//
// Config:
//   - operation: "read" (default) or "write"
//   - variableName: key in the variable store; defaults to the node id
//   - value: literal to write, or to return when reading an unset key
type VariableExecutor struct{}

func NewVariableExecutor() *VariableExecutor {
	return &VariableExecutor{}
}

func (e *VariableExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data

	operation := getString(data, "operation", "read")
	variableName := getString(data, "variableName", node.ID)

	switch operation {
	case "read":
		value, ok := ec.GetVariable(variableName)
		if !ok {
			// Fall back to the configured literal (used by start nodes
			// seeding a default value)
			value = data["value"]
		}
		log.Printf("📖 [VARIABLE] Node '%s': read %s = %v", node.Name, variableName, value)
		return map[string]any{
			"response": value,
			"data":     value,
			"value":    value,
		}, nil

	case "write":
		value, ok := inputs["input"]
		if !ok {
			if raw, exists := data["value"]; exists {
				if s, isStr := raw.(string); isStr {
					value = InterpolateTemplate(s, templateScope(inputs, ec))
				} else {
					value = raw
				}
			}
		}
		ec.SetVariable(variableName, value)
		log.Printf("📝 [VARIABLE] Node '%s': wrote %s = %v", node.Name, variableName, value)
		return map[string]any{
			"response": value,
			"data":     value,
			"value":    value,
		}, nil

	default:
		return nil, fmt.Errorf("variable: unsupported operation '%s'", operation)
	}
}

// templateScope merges the resolved slot inputs with a snapshot of the
// variable store so templates can reference both ({{input}}, {{variables.x}}).
func templateScope(inputs map[string]any, ec *ExecutionContext) map[string]any {
	scope := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		scope[k] = v
	}
	if ec != nil {
		scope["variables"] = ec.Variables()
	}
	return scope
}
