// Package fsm models the agent's finite-state machine and its memory of
// executed steps.
package fsm

import (
	"fmt"
	"sort"
)

// State is one node of the machine. Instruction is the prompt fragment
// injected into the action-selection turn; Scenario is a short label.
type State struct {
	Name        string `json:"name" yaml:"name"`
	Scenario    string `json:"scenario" yaml:"scenario"`
	Instruction string `json:"instruction" yaml:"instruction"`
}

// StateMachine holds the states and the allowed transitions between them.
// An empty machine means states are created dynamically.
type StateMachine struct {
	InitialStateName string              `json:"initial_state_name" yaml:"initial_state_name"`
	States           map[string]State    `json:"states" yaml:"states"`
	OutTransitions   map[string][]string `json:"out_transitions" yaml:"out_transitions"`
}

// IsEmpty reports whether the machine defines no states.
func (m *StateMachine) IsEmpty() bool {
	return m == nil || len(m.States) == 0
}

// Validate checks referential integrity: transitions only mention known
// states and the initial state exists.
func (m *StateMachine) Validate() error {
	if m.IsEmpty() {
		return nil
	}
	if _, ok := m.States[m.InitialStateName]; !ok {
		return fmt.Errorf("initial state %q not found in states", m.InitialStateName)
	}
	for from, targets := range m.OutTransitions {
		if _, ok := m.States[from]; !ok {
			return fmt.Errorf("transition source %q not found in states", from)
		}
		for _, to := range targets {
			if _, ok := m.States[to]; !ok {
				return fmt.Errorf("transition target %q (from %q) not found in states", to, from)
			}
		}
	}
	return nil
}

// InitialState returns the configured initial state.
func (m *StateMachine) InitialState() (State, bool) {
	if m.IsEmpty() {
		return State{}, false
	}
	s, ok := m.States[m.InitialStateName]
	return s, ok
}

// FreeStates returns states with no inbound and no outbound transitions.
// They are reachable from everywhere.
func (m *StateMachine) FreeStates() []State {
	if m.IsEmpty() {
		return nil
	}

	hasInbound := make(map[string]bool)
	for _, targets := range m.OutTransitions {
		for _, to := range targets {
			hasInbound[to] = true
		}
	}

	var free []State
	for name, s := range m.States {
		if len(m.OutTransitions[name]) == 0 && !hasInbound[name] {
			free = append(free, s)
		}
	}
	sortStates(free)
	return free
}

// NextAllowedStates returns the states the machine may move to from
// current: the declared out-transitions plus every free state. A state
// with no outgoing constraint may move to any state.
func (m *StateMachine) NextAllowedStates(current string) []State {
	if m.IsEmpty() {
		return nil
	}

	targets := m.OutTransitions[current]
	if len(targets) == 0 {
		all := make([]State, 0, len(m.States))
		for _, s := range m.States {
			all = append(all, s)
		}
		sortStates(all)
		return all
	}

	seen := make(map[string]bool)
	var next []State
	for _, name := range targets {
		if s, ok := m.States[name]; ok && !seen[name] {
			next = append(next, s)
			seen[name] = true
		}
	}
	for _, s := range m.FreeStates() {
		if !seen[s.Name] {
			next = append(next, s)
			seen[s.Name] = true
		}
	}
	return next
}

func sortStates(states []State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Name < states[j].Name
	})
}
