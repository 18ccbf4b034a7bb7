package aicontext

import (
	"strings"
	"time"
)

// Role values follow the chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged entry. Content is either a plain string or an
// ordered sequence of parts; rendering flattens parts in order.
type Message struct {
	Role      string
	RoleName  string
	Content   string
	Parts     []Part
	CreatedAt time.Time
}

// RenderContent flattens the message content to a single string.
func (m Message) RenderContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	rendered := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		rendered = append(rendered, p.Render())
	}
	return strings.Join(rendered, "\n")
}

// WireMessage is the provider chat message shape.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is an append-only ordered sequence of messages.
type Context struct {
	messages []Message
}

func New() *Context {
	return &Context{}
}

func (c *Context) add(role, content string, parts ...Part) {
	c.messages = append(c.messages, Message{
		Role:      role,
		Content:   content,
		Parts:     parts,
		CreatedAt: time.Now(),
	})
}

func (c *Context) AddSystemPrompt(content string) {
	c.add(RoleSystem, content)
}

func (c *Context) AddUserPrompt(content string) {
	c.add(RoleUser, content)
}

func (c *Context) AddUserParts(parts ...Part) {
	c.add(RoleUser, "", parts...)
}

func (c *Context) AddAssistant(content string) {
	c.add(RoleAssistant, content)
}

// Messages returns the messages in insertion order.
func (c *Context) Messages() []Message {
	return c.messages
}

func (c *Context) Len() int {
	return len(c.messages)
}

// WireFormat renders the context to the provider chat message array in
// insertion order.
func (c *Context) WireFormat() []WireMessage {
	wire := make([]WireMessage, 0, len(c.messages))
	for _, m := range c.messages {
		wire = append(wire, WireMessage{
			Role:    m.Role,
			Content: m.RenderContent(),
		})
	}
	return wire
}
