package fsm

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SendMessageToUser is the distinguished yield-to-user tool name.
const SendMessageToUser = "send_message_to_user"

// Action is one intended tool invocation. It is pending until Result is
// set by the executor.
type Action struct {
	Name      string                 `json:"name" yaml:"name"`
	Arguments map[string]interface{} `json:"arguments" yaml:"arguments"`
	Result    map[string]interface{} `json:"result,omitempty" yaml:"result,omitempty"`
}

// Completed reports whether the executor has produced a result.
func (a Action) Completed() bool {
	return a.Result != nil
}

// AgentMessage returns the agent_message argument of a send_message_to_user
// action, or "".
func (a Action) AgentMessage() string {
	if a.Name != SendMessageToUser {
		return ""
	}
	if msg, ok := a.Arguments["agent_message"].(string); ok {
		return msg
	}
	return ""
}

// Step is one conversational turn: the chosen state, its actions and the
// completion timestamp.
type Step struct {
	StateName string    `json:"state_name" yaml:"state_name"`
	Actions   []Action  `json:"actions" yaml:"actions"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Memory is the ordered sequence of steps. The caller owns it and passes
// it through the chat loop by value.
type Memory struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

func (m *Memory) IsEmpty() bool {
	return m == nil || len(m.Steps) == 0
}

func (m *Memory) AppendStep(step Step) {
	m.Steps = append(m.Steps, step)
}

// LastStep returns the most recent step.
func (m *Memory) LastStep() (Step, bool) {
	if m.IsEmpty() {
		return Step{}, false
	}
	return m.Steps[len(m.Steps)-1], true
}

// DropLastStep removes the most recent step, if any.
func (m *Memory) DropLastStep() {
	if !m.IsEmpty() {
		m.Steps = m.Steps[:len(m.Steps)-1]
	}
}

// historyStep is the rendered form of a step in PrintHistory output.
type historyStep struct {
	State   string          `yaml:"state"`
	Time    string          `yaml:"time"`
	Actions []historyAction `yaml:"actions"`
}

type historyAction struct {
	Name      string                 `yaml:"name"`
	Arguments map[string]interface{} `yaml:"arguments,omitempty"`
	Result    map[string]interface{} `yaml:"result,omitempty"`
}

// PrintHistory renders the last maxLen steps in chronological order as a
// YAML document with relative timestamps. Rendering is deterministic for
// a given memory and reference time.
func (m *Memory) PrintHistory(maxLen int) string {
	return m.PrintHistoryAt(maxLen, time.Now())
}

// PrintHistoryAt is PrintHistory with an explicit reference time.
func (m *Memory) PrintHistoryAt(maxLen int, now time.Time) string {
	if m.IsEmpty() || maxLen <= 0 {
		return ""
	}

	steps := m.Steps
	if len(steps) > maxLen {
		steps = steps[len(steps)-maxLen:]
	}

	rendered := make([]historyStep, 0, len(steps))
	for _, step := range steps {
		hs := historyStep{
			State: step.StateName,
			Time:  RelativeTime(step.Timestamp, now),
		}
		for _, action := range step.Actions {
			hs.Actions = append(hs.Actions, historyAction{
				Name:      action.Name,
				Arguments: action.Arguments,
				Result:    action.Result,
			})
		}
		rendered = append(rendered, hs)
	}

	out, err := yaml.Marshal(rendered)
	if err != nil {
		return fmt.Sprintf("history rendering failed: %v", err)
	}
	return string(out)
}

// RelativeTime renders t relative to now ("just now", "5 minutes ago").
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 10*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
