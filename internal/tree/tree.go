// Package tree holds an in-memory snapshot of a space's page hierarchy and
// applies move intents to it.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"canopy/api/internal/dnd"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrUnknownParent = errors.New("unknown parent")
	ErrDuplicateNode = errors.New("duplicate node")
	ErrCycle         = errors.New("cycle in tree")
)

// Item is one row of the flat page list.
type Item struct {
	ID       string
	ParentID string
	Index    int
	Kind     dnd.Kind
}

// Placement is a node's position after a move.
type Placement struct {
	ID       string
	ParentID string
	Index    int
}

// Branch is a node of the nested view.
type Branch struct {
	ID       string
	Depth    int
	Children []*Branch
}

type Tree struct {
	items    map[string]Item
	children map[string][]string
}

// New builds a snapshot. Siblings are ordered by Index, ties by input order.
func New(items []Item) (*Tree, error) {
	t := &Tree{
		items:    make(map[string]Item, len(items)),
		children: make(map[string][]string),
	}
	position := make(map[string]int, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("%w: empty id at row %d", ErrUnknownNode, i)
		}
		if _, exists := t.items[item.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, item.ID)
		}
		t.items[item.ID] = item
		position[item.ID] = i
	}

	for _, item := range items {
		if item.ParentID != "" {
			if _, ok := t.items[item.ParentID]; !ok {
				return nil, fmt.Errorf("%w: %s for %s", ErrUnknownParent, item.ParentID, item.ID)
			}
		}
		t.children[item.ParentID] = append(t.children[item.ParentID], item.ID)
	}

	for _, ids := range t.children {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := t.items[ids[i]], t.items[ids[j]]
			if a.Index != b.Index {
				return a.Index < b.Index
			}
			return position[a.ID] < position[b.ID]
		})
	}

	for id := range t.items {
		steps := 0
		for cur := t.items[id].ParentID; cur != ""; cur = t.items[cur].ParentID {
			steps++
			if cur == id || steps > len(t.items) {
				return nil, fmt.Errorf("%w: %s", ErrCycle, id)
			}
		}
	}
	return t, nil
}

func (t *Tree) Len() int {
	return len(t.items)
}

func (t *Tree) Get(id string) (Item, bool) {
	item, ok := t.items[id]
	return item, ok
}

// Node returns the classifier view of a node, with its current sibling index.
func (t *Tree) Node(id string) (dnd.Node, bool) {
	item, ok := t.items[id]
	if !ok {
		return dnd.Node{}, false
	}
	return dnd.Node{
		ID:       item.ID,
		ParentID: item.ParentID,
		Index:    indexOf(t.children[item.ParentID], id),
		Kind:     item.Kind,
	}, true
}

func (t *Tree) Roots() []string {
	return t.Children("")
}

func (t *Tree) Children(id string) []string {
	return append([]string(nil), t.children[id]...)
}

// IsDescendant reports whether id sits strictly below ancestorID.
func (t *Tree) IsDescendant(ancestorID, id string) bool {
	item, ok := t.items[id]
	if !ok {
		return false
	}
	for cur := item.ParentID; cur != ""; cur = t.items[cur].ParentID {
		if cur == ancestorID {
			return true
		}
	}
	return false
}

// Subtree lists id and all of its descendants, parents before children.
func (t *Tree) Subtree(id string) []string {
	if _, ok := t.items[id]; !ok {
		return nil
	}
	out := []string{id}
	for i := 0; i < len(out); i++ {
		out = append(out, t.children[out[i]]...)
	}
	return out
}

// Nested returns the roots with their descendants attached.
func (t *Tree) Nested() []*Branch {
	var build func(ids []string, depth int) []*Branch
	build = func(ids []string, depth int) []*Branch {
		branches := make([]*Branch, 0, len(ids))
		for _, id := range ids {
			branches = append(branches, &Branch{
				ID:       id,
				Depth:    depth,
				Children: build(t.children[id], depth+1),
			})
		}
		return branches
	}
	return build(t.children[""], 0)
}

// NextIndex is the index a new last child of parentID would take.
func (t *Tree) NextIndex(parentID string) int {
	return len(t.children[parentID])
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}
