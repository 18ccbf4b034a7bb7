package ospa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStructure(t *testing.T) (*ChapterStructure, string, string, string) {
	t.Helper()
	cs := NewChapterStructure()

	root1, err := cs.AddNode(&ChapterNode{Title: "Python Basics"}, "")
	require.NoError(t, err)
	child, err := cs.AddNode(&ChapterNode{Title: "Data Types"}, root1)
	require.NoError(t, err)
	root2, err := cs.AddNode(&ChapterNode{Title: "Databases"}, "")
	require.NoError(t, err)

	return cs, root1, child, root2
}

func TestAddNodeAndLevels(t *testing.T) {
	cs, root1, child, root2 := buildStructure(t)

	assert.Equal(t, 1, cs.Level(root1))
	assert.Equal(t, 2, cs.Level(child))
	assert.Equal(t, 1, cs.Level(root2))
	assert.Equal(t, 0, cs.Level("missing"))
}

func TestAddNodeUnknownParent(t *testing.T) {
	cs := NewChapterStructure()
	_, err := cs.AddNode(&ChapterNode{Title: "orphan"}, "nope")
	assert.Error(t, err)
}

func TestNumbering(t *testing.T) {
	cs, root1, child, root2 := buildStructure(t)

	numbers := cs.Numbering()
	assert.Equal(t, "1", numbers[root1])
	assert.Equal(t, "1.1", numbers[child])
	assert.Equal(t, "2", numbers[root2])
}

func TestPath(t *testing.T) {
	cs, _, child, _ := buildStructure(t)
	assert.Equal(t, []string{"Python Basics", "Data Types"}, cs.Path(child))
}

func TestNodesAtMaxLevel(t *testing.T) {
	cs, _, _, _ := buildStructure(t)

	all := cs.NodesAtMaxLevel(0)
	assert.Len(t, all, 3)

	topOnly := cs.NodesAtMaxLevel(1)
	require.Len(t, topOnly, 2)
	assert.Equal(t, "Python Basics", topOnly[0].Title)
	assert.Equal(t, "Databases", topOnly[1].Title)
}

func TestLabelPrecedence(t *testing.T) {
	assert.Greater(t, LabelPrecedence(LabelUnsupported), LabelPrecedence(LabelDifferent))
	assert.Greater(t, LabelPrecedence(LabelDifferent), LabelPrecedence(LabelPartiallyEquivalent))
	assert.Greater(t, LabelPrecedence(LabelPartiallyEquivalent), LabelPrecedence(LabelEquivalent))
	assert.Equal(t, -1, LabelPrecedence("bogus"))
}
