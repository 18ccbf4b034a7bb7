package tools

import (
	"context"

	"github.com/ospa-ai/relay/pkg/fsm"
)

// SendMessageTool is the distinguished yield-to-user tool. Executing it
// performs no I/O; it returns the sentinel result that ends the turn.
type SendMessageTool struct{}

func NewSendMessageTool() *SendMessageTool {
	return &SendMessageTool{}
}

func (t *SendMessageTool) GetName() string {
	return fsm.SendMessageToUser
}

func (t *SendMessageTool) GetDescription() string {
	return "Send a message to the user and wait for their reply. Use this to answer, ask a question, or end your turn."
}

func (t *SendMessageTool) GetParameterSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_message": map[string]interface{}{
				"type":        "string",
				"description": "The message shown to the user.",
			},
		},
		"required": []string{"agent_message"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"user_message": ""}, nil
}
