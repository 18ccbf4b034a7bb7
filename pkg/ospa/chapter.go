package ospa

import (
	"fmt"

	"github.com/google/uuid"
)

// ChapterNode is one node of the chapter forest.
type ChapterNode struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Content       string   `json:"content,omitempty"`
	Children      []string `json:"children,omitempty"`
	RelatedCQAIDs []string `json:"related_cqa_ids,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// ChapterStructure is a forest of chapter nodes: every node is reachable
// from exactly one root and there are no cycles.
type ChapterStructure struct {
	Nodes   map[string]*ChapterNode `json:"nodes"`
	RootIDs []string                `json:"root_ids"`
}

func NewChapterStructure() *ChapterStructure {
	return &ChapterStructure{Nodes: make(map[string]*ChapterNode)}
}

// AddNode inserts node under parentID, or as a new root when parentID is
// empty. A missing ID gets a fresh UUID. Returns the node's ID.
func (cs *ChapterStructure) AddNode(node *ChapterNode, parentID string) (string, error) {
	if cs.Nodes == nil {
		cs.Nodes = make(map[string]*ChapterNode)
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if _, exists := cs.Nodes[node.ID]; exists {
		return "", fmt.Errorf("chapter node %s already exists", node.ID)
	}

	if parentID == "" {
		cs.Nodes[node.ID] = node
		cs.RootIDs = append(cs.RootIDs, node.ID)
		return node.ID, nil
	}

	parent, ok := cs.Nodes[parentID]
	if !ok {
		return "", fmt.Errorf("parent chapter %s not found", parentID)
	}
	cs.Nodes[node.ID] = node
	parent.Children = append(parent.Children, node.ID)
	return node.ID, nil
}

// Level returns the 1-based depth of a node (roots are level 1), or 0 if
// the node is unknown.
func (cs *ChapterStructure) Level(id string) int {
	if cs == nil || cs.Nodes == nil {
		return 0
	}
	if _, ok := cs.Nodes[id]; !ok {
		return 0
	}

	parents := cs.parentMap()
	level := 1
	current := id
	for {
		parent, ok := parents[current]
		if !ok {
			return level
		}
		level++
		current = parent
	}
}

// Path returns the titles from the root down to id.
func (cs *ChapterStructure) Path(id string) []string {
	if cs == nil || cs.Nodes == nil {
		return nil
	}
	parents := cs.parentMap()

	var reversed []string
	current := id
	for {
		node, ok := cs.Nodes[current]
		if !ok {
			break
		}
		reversed = append(reversed, node.Title)
		parent, ok := parents[current]
		if !ok {
			break
		}
		current = parent
	}

	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// Numbering assigns hierarchical chapter numbers ("1", "1.2") by walking
// roots and children in insertion order.
func (cs *ChapterStructure) Numbering() map[string]string {
	numbers := make(map[string]string)
	if cs == nil {
		return numbers
	}

	var walk func(ids []string, prefix string)
	walk = func(ids []string, prefix string) {
		n := 0
		for _, id := range ids {
			node, ok := cs.Nodes[id]
			if !ok {
				continue
			}
			n++
			number := fmt.Sprintf("%d", n)
			if prefix != "" {
				number = prefix + "." + number
			}
			numbers[id] = number
			walk(node.Children, number)
		}
	}
	walk(cs.RootIDs, "")
	return numbers
}

// NodesAtMaxLevel returns the nodes whose level does not exceed maxLevel,
// in numbering order. maxLevel <= 0 means no limit.
func (cs *ChapterStructure) NodesAtMaxLevel(maxLevel int) []*ChapterNode {
	if cs == nil {
		return nil
	}

	var out []*ChapterNode
	var walk func(ids []string, level int)
	walk = func(ids []string, level int) {
		if maxLevel > 0 && level > maxLevel {
			return
		}
		for _, id := range ids {
			node, ok := cs.Nodes[id]
			if !ok {
				continue
			}
			out = append(out, node)
			walk(node.Children, level+1)
		}
	}
	walk(cs.RootIDs, 1)
	return out
}

func (cs *ChapterStructure) parentMap() map[string]string {
	parents := make(map[string]string)
	for id, node := range cs.Nodes {
		for _, child := range node.Children {
			parents[child] = id
		}
	}
	return parents
}
