package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ospa-ai/relay/pkg/fsm"
)

// Executor dispatches pending actions to their tools. Tool failures are
// contained in the action result; Execute itself only fails on context
// cancellation.
type Executor struct {
	registry *Registry
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute completes one action. The returned action always has a result.
func (e *Executor) Execute(ctx context.Context, action fsm.Action) (fsm.Action, error) {
	if err := ctx.Err(); err != nil {
		return action, err
	}

	tool, ok := e.registry.Get(action.Name)
	if !ok {
		action.Result = map[string]interface{}{
			"error": fmt.Sprintf("unknown tool: %s", action.Name),
		}
		return action, nil
	}

	if err := e.validateArgs(tool, action.Arguments); err != nil {
		action.Result = map[string]interface{}{"error": err.Error()}
		return action, nil
	}

	result, err := tool.Execute(ctx, action.Arguments)
	if err != nil {
		slog.Warn("tool execution failed", "tool", action.Name, "error", err)
		if result == nil {
			result = map[string]interface{}{"error": err.Error()}
		}
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	action.Result = result
	return action, nil
}

func (e *Executor) validateArgs(tool Tool, args map[string]interface{}) error {
	schema := tool.GetParameterSchema()
	for _, name := range schemaRequired(schema) {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q for tool %s", name, tool.GetName())
		}
	}
	return nil
}
