package tree

import (
	"fmt"

	"canopy/api/internal/dnd"
)

// Apply performs a move intent on the snapshot and returns the placements
// that changed, ready to persist. Sibling indexes of both the old and the new
// parent are renumbered 0..n-1. On error the snapshot is left untouched.
func (t *Tree) Apply(intent dnd.Intent) ([]Placement, error) {
	if intent.IsNone() {
		return nil, nil
	}
	if intent.Op != dnd.OpAdjacent && intent.Op != dnd.OpChild {
		return nil, fmt.Errorf("unsupported intent %q", intent.Op)
	}

	source, ok := t.items[intent.SourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, intent.SourceID)
	}
	target, ok := t.items[intent.TargetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, intent.TargetID)
	}
	if source.ID == target.ID || t.IsDescendant(source.ID, target.ID) {
		return nil, fmt.Errorf("%w: %s onto %s", dnd.ErrInvalidDrop, source.ID, target.ID)
	}

	newParent := target.ParentID
	if intent.Op == dnd.OpChild {
		if target.Kind != dnd.KindContainer {
			return nil, fmt.Errorf("%w: %s does not accept children", dnd.ErrInvalidDrop, target.ID)
		}
		newParent = target.ID
	}
	oldParent := source.ParentID

	oldSiblings := without(t.children[oldParent], source.ID)
	newSiblings := oldSiblings
	if newParent != oldParent {
		newSiblings = append([]string(nil), t.children[newParent]...)
	}

	switch intent.Op {
	case dnd.OpAdjacent:
		at := indexOf(newSiblings, target.ID)
		newSiblings = insertAt(newSiblings, at, source.ID)
	case dnd.OpChild:
		newSiblings = append(newSiblings, source.ID)
	}

	var changed []Placement
	renumber := func(parentID string, ids []string) {
		for i, id := range ids {
			item := t.items[id]
			if item.ParentID == parentID && item.Index == i {
				continue
			}
			item.ParentID = parentID
			item.Index = i
			t.items[id] = item
			changed = append(changed, Placement{ID: id, ParentID: parentID, Index: i})
		}
		t.children[parentID] = ids
	}

	if newParent != oldParent {
		renumber(oldParent, oldSiblings)
	}
	renumber(newParent, newSiblings)
	return changed, nil
}

// Remove detaches id and its subtree. It returns the removed ids, parents
// first, and the renumbered placements of the surviving siblings.
func (t *Tree) Remove(id string) ([]string, []Placement, error) {
	item, ok := t.items[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	removed := t.Subtree(id)
	for _, gone := range removed {
		delete(t.items, gone)
		delete(t.children, gone)
	}

	siblings := without(t.children[item.ParentID], id)
	t.children[item.ParentID] = siblings
	var changed []Placement
	for i, sibling := range siblings {
		current := t.items[sibling]
		if current.Index == i {
			continue
		}
		current.Index = i
		t.items[sibling] = current
		changed = append(changed, Placement{ID: sibling, ParentID: item.ParentID, Index: i})
	}
	return removed, changed, nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

func insertAt(ids []string, at int, id string) []string {
	if at < 0 || at > len(ids) {
		at = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:at]...)
	out = append(out, id)
	return append(out, ids[at:]...)
}
