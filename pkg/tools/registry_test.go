package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospa-ai/relay/pkg/fsm"
)

type stubTool struct {
	name   string
	result map[string]interface{}
	err    error
	schema map[string]interface{}
}

func (s *stubTool) GetName() string        { return s.name }
func (s *stubTool) GetDescription() string { return "stub" }
func (s *stubTool) GetParameterSchema() map[string]interface{} {
	if s.schema != nil {
		return s.schema
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return s.result, s.err
}

func TestRegistrySeedsSendMessage(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(fsm.SendMessageToUser)
	assert.True(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "get_time"}))

	err := r.Register(&stubTool{name: "get_time"})
	assert.ErrorIs(t, err, ErrDuplicateToolName)

	err = r.Register(&stubTool{name: fsm.SendMessageToUser})
	assert.ErrorIs(t, err, ErrDuplicateToolName)
}

func TestDefinitionsOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "b_tool"}))
	require.NoError(t, r.Register(&stubTool{name: "a_tool"}))

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, fsm.SendMessageToUser, defs[0].Name)
	assert.Equal(t, "b_tool", defs[1].Name)
	assert.Equal(t, "a_tool", defs[2].Name)
}
