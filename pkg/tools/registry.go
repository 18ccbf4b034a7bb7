package tools

import (
	"fmt"
	"sort"

	"github.com/ospa-ai/relay/pkg/llms"
)

// Registry maps tool names to tools for one request. send_message_to_user
// is always present.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	sendMessage := NewSendMessageTool()
	r.tools[sendMessage.GetName()] = sendMessage
	r.order = append(r.order, sendMessage.GetName())
	return r
}

// Register adds a tool. A name collision fails with ErrDuplicateToolName.
func (r *Registry) Register(t Tool) error {
	name := t.GetName()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToolName, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the provider envelopes in registration order.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}
