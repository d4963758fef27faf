package execution

import (
	"context"
	"fmt"

	"nodeflow/internal/models"
	"nodeflow/internal/sandbox"
)

// NodeExecutor is implemented once per node type
type NodeExecutor interface {
	Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error)
}

// NodeDefinition describes a registered node type: its declared slots, the
// defaults merged under each node's data, and the executor that runs it.
// Immutable once registered.
type NodeDefinition struct {
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	Category    string         `json:"category"`
	Inputs      []string       `json:"inputs"`
	Outputs     []string       `json:"outputs"`
	DefaultData map[string]any `json:"defaultData,omitempty"`
	Executor    NodeExecutor   `json:"-"`
}

// Registry maps node type names to definitions. Pure lookup table; no state
// beyond registration.
type Registry struct {
	definitions map[string]*NodeDefinition
}

// NewRegistry creates a registry with all builtin node types.
// The sandbox runner is injected so the code node is the only component that
// can reach it.
func NewRegistry(sb *sandbox.Runner) *Registry {
	r := &Registry{definitions: make(map[string]*NodeDefinition)}

	r.Register(&NodeDefinition{
		Name:     "variable",
		Icon:     "database",
		Category: "data",
		Outputs:  []string{"output"},
		DefaultData: map[string]any{
			"operation": "read",
		},
		Executor: NewVariableExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "timer",
		Icon:     "clock",
		Category: "control",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		DefaultData: map[string]any{
			"duration": float64(1),
			"unit":     "seconds",
		},
		Executor: NewTimerExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "http_request",
		Icon:     "globe",
		Category: "network",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		DefaultData: map[string]any{
			"method": "GET",
		},
		Executor: NewHTTPRequestExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "llm",
		Icon:     "sparkles",
		Category: "ai",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		DefaultData: map[string]any{
			"temperature": 0.7,
		},
		Executor: NewLLMExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "transform",
		Icon:     "shuffle",
		Category: "data",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		Executor: NewTransformExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "if_condition",
		Icon:     "git-branch",
		Category: "control",
		Inputs:   []string{"input"},
		Outputs:  []string{"true", "false"},
		DefaultData: map[string]any{
			"operator": "is_true",
		},
		Executor: NewIfConditionExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "loop",
		Icon:     "repeat",
		Category: "control",
		Inputs:   []string{"input"},
		Outputs:  []string{"loop_body", "done"},
		DefaultData: map[string]any{
			"operator":      "is_true",
			"maxIterations": float64(100),
		},
		Executor: NewLoopExecutor(),
	})
	r.Register(&NodeDefinition{
		Name:     "code",
		Icon:     "code",
		Category: "code",
		Inputs:   []string{"input"},
		Outputs:  []string{"output"},
		DefaultData: map[string]any{
			"timeout": float64(5000),
		},
		Executor: NewCodeExecutor(sb),
	})
	r.Register(&NodeDefinition{
		Name:     "output",
		Icon:     "flag",
		Category: "data",
		Inputs:   []string{"input"},
		Executor: NewOutputExecutor(),
	})

	return r
}

// Register adds or replaces a node type definition
func (r *Registry) Register(def *NodeDefinition) {
	r.definitions[def.Name] = def
}

// Get retrieves a definition for a node type
func (r *Registry) Get(nodeType string) (*NodeDefinition, error) {
	def, ok := r.definitions[nodeType]
	if !ok {
		return nil, fmt.Errorf("no node type registered for '%s'", nodeType)
	}
	return def, nil
}

// Has reports whether a node type is registered
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.definitions[nodeType]
	return ok
}

// Definitions returns all registered definitions for the palette endpoint
func (r *Registry) Definitions() []*NodeDefinition {
	defs := make([]*NodeDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	return defs
}

// MergedData returns a node's data merged over its type's defaults.
func (r *Registry) MergedData(node models.Node) map[string]any {
	merged := make(map[string]any)
	if def, ok := r.definitions[node.Type]; ok {
		for k, v := range def.DefaultData {
			merged[k] = v
		}
	}
	for k, v := range node.Data {
		merged[k] = v
	}
	return merged
}
