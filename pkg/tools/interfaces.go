// Package tools defines the tool contract, the per-request registry and the
// action executor.
package tools

import (
	"context"
	"errors"

	"github.com/ospa-ai/relay/pkg/llms"
)

// ErrDuplicateToolName reports a registry name collision.
var ErrDuplicateToolName = errors.New("duplicate tool name")

// Tool is a capability with a declared argument schema. Execute returns a
// result mapping; a non-nil error is captured by the executor into the
// action result, it never propagates.
type Tool interface {
	GetName() string

	GetDescription() string

	// GetParameterSchema returns the JSON schema of the tool's arguments
	// (an "object" schema).
	GetParameterSchema() map[string]interface{}

	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Definition wraps a tool in the provider's function-calling envelope.
func Definition(t Tool) llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  t.GetParameterSchema(),
	}
}
