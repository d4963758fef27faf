package execution

import (
	"context"
	"log"
	"strings"
	"time"

	"nodeflow/internal/models"
)

// TimerExecutor pauses execution for a configured duration, then passes data through.
type TimerExecutor struct{}

func NewTimerExecutor() *TimerExecutor {
	return &TimerExecutor{}
}

func (e *TimerExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data

	duration := getFloat(data, "duration", 1)
	unit := getString(data, "unit", "seconds")

	var waitDuration time.Duration
	switch unit {
	case "ms":
		waitDuration = time.Duration(duration) * time.Millisecond
	case "minutes":
		waitDuration = time.Duration(duration) * time.Minute
	default: // "seconds"
		waitDuration = time.Duration(duration) * time.Second
	}

	// Cap at 5 minutes to prevent abuse
	if waitDuration > 5*time.Minute {
		waitDuration = 5 * time.Minute
	}

	log.Printf("⏳ [TIMER] Node '%s': waiting %v", node.Name, waitDuration)

	select {
	case <-time.After(waitDuration):
		// Done waiting
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Pass through all inputs (strip internal keys)
	output := make(map[string]any)
	for k, v := range inputs {
		if !strings.HasPrefix(k, "_") {
			output[k] = v
		}
	}

	if _, ok := output["response"]; !ok {
		if in, ok := output["input"]; ok {
			output["response"] = in
		} else {
			output["response"] = true
		}
	}
	if _, ok := output["data"]; !ok {
		output["data"] = output["response"]
	}

	return output, nil
}
