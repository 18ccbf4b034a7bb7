package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospa-ai/relay/pkg/llms"
)

func TestSingletonIdentity(t *testing.T) {
	t.Cleanup(ResetRegistry)

	a1 := New("state_select", "sys", "history: {history}", nil)
	a2 := New("state_select", "different sys", "different {template}", nil)
	assert.Same(t, a1, a2)
	// Second construction is a no-op.
	assert.Equal(t, "sys", a2.SystemPrompt())
	assert.Equal(t, []string{"history"}, a2.TemplateVars())

	other := New("select_actions", "sys", "", nil)
	assert.NotSame(t, a1, other)
}

func TestListPlaceholders(t *testing.T) {
	vars := ListPlaceholders("history: {history}\nstates: {states}\nagain {history}")
	assert.Equal(t, []string{"history", "states"}, vars)

	assert.Empty(t, ListPlaceholders("no placeholders here"))
	// JSON braces are not identifiers and are left alone.
	assert.Empty(t, ListPlaceholders(`{"key": "value"}`))
}

func TestRenderUserPrompt(t *testing.T) {
	t.Cleanup(ResetRegistry)
	a := New("renderer", "", "q: {question}\na: {answer}", nil)

	out, err := a.RenderUserPrompt(map[string]string{
		"question": "why",
		"answer":   "because",
		"extra":    "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "q: why\na: because", out)
}

func TestRenderMissingVariable(t *testing.T) {
	t.Cleanup(ResetRegistry)
	a := New("strict_renderer", "", "{question} {answer}", nil)

	_, err := a.RenderUserPrompt(map[string]string{"question": "why"})
	assert.ErrorIs(t, err, ErrMissingTemplateVariable)
	assert.Contains(t, err.Error(), "answer")
}

func TestBuildContext(t *testing.T) {
	t.Cleanup(ResetRegistry)
	a := New("ctx_builder", "system text", "hello {name}", nil)

	ctx, err := a.BuildContext(nil, map[string]string{"name": "world"})
	require.NoError(t, err)
	wire := ctx.WireFormat()
	require.Len(t, wire, 2)
	assert.Equal(t, "system", wire[0].Role)
	assert.Equal(t, "hello world", wire[1].Content)
}

func TestUpdateAllEngines(t *testing.T) {
	t.Cleanup(ResetRegistry)
	t.Cleanup(llms.ClearAll)

	a := New("swap_a", "", "", nil)
	b := New("swap_b", "", "", nil)

	engine := llms.Get(llms.Config{Model: "m", BaseURL: "http://x"})
	UpdateAllEngines(engine)

	assert.Same(t, engine, a.Engine())
	assert.Same(t, engine, b.Engine())
}
