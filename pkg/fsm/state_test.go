package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMachine() *StateMachine {
	return &StateMachine{
		InitialStateName: "greeting",
		States: map[string]State{
			"greeting":     {Name: "greeting", Scenario: "opening", Instruction: "greet"},
			"conversation": {Name: "conversation", Scenario: "main", Instruction: "talk"},
			"closing":      {Name: "closing", Scenario: "end", Instruction: "wrap up"},
			"faq":          {Name: "faq", Scenario: "side", Instruction: "answer faq"},
		},
		OutTransitions: map[string][]string{
			"greeting":     {"conversation"},
			"conversation": {"conversation", "closing"},
		},
	}
}

func TestValidate(t *testing.T) {
	m := sampleMachine()
	require.NoError(t, m.Validate())

	m.OutTransitions["conversation"] = append(m.OutTransitions["conversation"], "nowhere")
	assert.Error(t, m.Validate())

	var empty *StateMachine
	assert.NoError(t, empty.Validate())
	assert.True(t, empty.IsEmpty())
}

func TestValidateMissingInitial(t *testing.T) {
	m := sampleMachine()
	m.InitialStateName = "missing"
	assert.Error(t, m.Validate())
}

func TestFreeStates(t *testing.T) {
	m := sampleMachine()
	free := m.FreeStates()
	// faq has neither inbound nor outbound transitions; closing has inbound.
	require.Len(t, free, 1)
	assert.Equal(t, "faq", free[0].Name)
}

func TestNextAllowedStatesWithTransitions(t *testing.T) {
	m := sampleMachine()
	next := m.NextAllowedStates("greeting")

	names := make([]string, 0, len(next))
	for _, s := range next {
		names = append(names, s.Name)
	}
	// Declared targets first, then free states.
	assert.Equal(t, []string{"conversation", "faq"}, names)
}

func TestNextAllowedStatesUnconstrained(t *testing.T) {
	m := sampleMachine()
	next := m.NextAllowedStates("closing")
	assert.Len(t, next, len(m.States))
}

func TestNextAllowedStatesEmptyMachine(t *testing.T) {
	var m *StateMachine
	assert.Nil(t, m.NextAllowedStates("anything"))
}
