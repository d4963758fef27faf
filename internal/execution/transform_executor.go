package execution

import (
	"context"
	"fmt"
	"log"

	"nodeflow/internal/models"
)

// TransformExecutor reshapes its input through a list of operations
// (set, template, rename, delete, extract) applied in order.
type TransformExecutor struct{}

func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{}
}

func (e *TransformExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data
	scope := templateScope(inputs, ec)

	// Start from the input payload when it is a map, else wrap it.
	result := map[string]any{}
	if m, ok := inputs["input"].(map[string]any); ok {
		for k, v := range m {
			result[k] = v
		}
	} else if inputs["input"] != nil {
		result["input"] = inputs["input"]
	}

	operations, _ := data["operations"].([]any)
	for i, rawOp := range operations {
		op, ok := rawOp.(map[string]any)
		if !ok {
			continue
		}

		opType := getString(op, "type", "")
		field := getString(op, "field", "")

		switch opType {
		case "set":
			if field == "" {
				return nil, fmt.Errorf("transform operation %d: set requires a field", i)
			}
			result[field] = interpolateValue(op["value"], scope)

		case "template":
			if field == "" {
				return nil, fmt.Errorf("transform operation %d: template requires a field", i)
			}
			tmpl := getString(op, "template", "")
			result[field] = InterpolateTemplate(tmpl, scope)

		case "rename":
			to := getString(op, "to", "")
			if field == "" || to == "" {
				return nil, fmt.Errorf("transform operation %d: rename requires field and to", i)
			}
			if v, exists := result[field]; exists {
				result[to] = v
				delete(result, field)
			}

		case "delete":
			if field == "" {
				return nil, fmt.Errorf("transform operation %d: delete requires a field", i)
			}
			delete(result, field)

		case "extract":
			path := StripTemplateBraces(getString(op, "path", ""))
			if field == "" || path == "" {
				return nil, fmt.Errorf("transform operation %d: extract requires field and path", i)
			}
			result[field] = ResolvePath(scope, path)

		default:
			log.Printf("⚠️ [TRANSFORM] Node '%s': unknown operation type '%s', skipping", node.Name, opType)
		}
	}

	log.Printf("🔧 [TRANSFORM] Node '%s': applied %d operation(s)", node.Name, len(operations))

	return map[string]any{
		"response": result,
		"data":     result,
	}, nil
}
