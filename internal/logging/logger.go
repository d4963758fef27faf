package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithExecution returns a logger with execution context fields attached.
// Use this for all logging within a workflow execution.
func WithExecution(executionID, workflowID string) *slog.Logger {
	return slog.With(
		"execution_id", executionID,
		"workflow_id", workflowID,
	)
}

// WithNode returns a logger scoped to a specific node within an execution.
func WithNode(logger *slog.Logger, nodeID, nodeName, nodeType string) *slog.Logger {
	return logger.With(
		"node_id", nodeID,
		"node_name", nodeName,
		"node_type", nodeType,
	)
}
